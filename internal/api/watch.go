package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"

	"github.com/lanward/lanward/internal/registry"
)

// WatchServers streams the server collection over a websocket: the full
// snapshot on connect, then again after every change. Updates are
// latest-wins; a slow client skips intermediate snapshots instead of
// stalling the registry.
func (h *Handler) WatchServers(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[watch] Failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	// Buffer of one: the subscriber callback swaps in the newest snapshot
	// without ever blocking the publishing mutation.
	updates := make(chan []registry.Server, 1)
	unsub := h.Registry.Subscribe(func(servers []registry.Server) {
		for {
			select {
			case updates <- servers:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsub()

	if err := h.writeSnapshot(ctx, conn, h.Registry.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case servers := <-updates:
			if err := h.writeSnapshot(ctx, conn, servers); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeSnapshot(ctx context.Context, conn *websocket.Conn, servers []registry.Server) error {
	out := make([]serverResponse, len(servers))
	for i, srv := range servers {
		out[i] = h.response(srv)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
