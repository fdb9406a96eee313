// Package api exposes the server registry over HTTP: CRUD on the
// configured servers plus a websocket that streams status changes.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lanward/lanward/internal/registry"
)

// Relays answers whether a relay is currently registered for a server.
type Relays interface {
	Has(id string) bool
}

type Handler struct {
	Registry *registry.Registry
	Relays   Relays
}

type serverCreateRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Port      string `json:"port"`
	AutoStart *bool  `json:"auto_start"`
}

type serverUpdateRequest struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	Port    *string `json:"port"`
}

type autoStartRequest struct {
	AutoStart bool `json:"auto_start"`
}

type serverResponse struct {
	registry.Server
	RelayRunning bool `json:"relay_running"`
}

func (h *Handler) response(srv registry.Server) serverResponse {
	running := false
	if h.Relays != nil {
		running = h.Relays.Has(srv.ID)
	}
	return serverResponse{Server: srv, RelayRunning: running}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/servers", h.ListServers)
	r.Post("/servers", h.CreateServer)
	r.Get("/servers/{id}", h.GetServer)
	r.Patch("/servers/{id}", h.UpdateServer)
	r.Delete("/servers/{id}", h.DeleteServer)
	r.Put("/servers/{id}/autostart", h.SetAutoStart)
	r.Get("/servers/watch", h.WatchServers)
}

func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers := h.Registry.Snapshot()
	out := make([]serverResponse, len(servers))
	for i, srv := range servers {
		out[i] = h.response(srv)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	writeJSON(w, http.StatusOK, h.response(srv))
}

func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var req serverCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "name and address are required")
		return
	}
	if err := validatePort(req.Port); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	autoStart := true
	if req.AutoStart != nil {
		autoStart = *req.AutoStart
	}

	srv, err := h.Registry.Add(r.Context(), registry.AddSpec{
		ID:        req.ID,
		Name:      req.Name,
		Address:   req.Address,
		Port:      req.Port,
		AutoStart: autoStart,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, h.response(srv))
}

func (h *Handler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.Registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	var req serverUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Name != nil && *req.Name == "" {
		writeError(w, http.StatusBadRequest, "name cannot be empty")
		return
	}
	if req.Address != nil && *req.Address == "" {
		writeError(w, http.StatusBadRequest, "address cannot be empty")
		return
	}
	if req.Port != nil {
		if err := validatePort(*req.Port); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	h.Registry.Update(r.Context(), id, registry.UpdateSpec{
		Name:    req.Name,
		Address: req.Address,
		Port:    req.Port,
	})

	srv, ok := h.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	writeJSON(w, http.StatusOK, h.response(srv))
}

func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.Registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	h.Registry.Remove(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) SetAutoStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.Registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	var req autoStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	h.Registry.SetAutoStart(r.Context(), id, req.AutoStart)
	srv, _ := h.Registry.Get(id)
	writeJSON(w, http.StatusOK, h.response(srv))
}

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be an integer between 1 and 65535")
	}
	return nil
}
