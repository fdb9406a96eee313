package registry

import (
	"context"
	"net"
	"time"
)

// Status is the connectivity state of a configured server.
//
// The intended transitions:
//
//	connecting -> starting | offline
//	starting   -> online | offline
//	online     -> online | offline
//	offline    -> online | offline
//
// A successful ping moves any state to online; a failed ping moves any
// state to offline. There is no terminal state: removal deletes the server.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusStarting   Status = "starting"
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
)

// PingInfo is the metadata from the most recent successful ping. It is
// replaced wholesale on every successful probe and never updated field by
// field.
type PingInfo struct {
	Players    int       `json:"players"`
	MaxPlayers int       `json:"max_players"`
	MOTD       string    `json:"motd"`
	SubMOTD    string    `json:"sub_motd"`
	Icon       string    `json:"icon,omitempty"` // unset for Bedrock pongs
	CheckedAt  time.Time `json:"checked_at"`
}

// Server is one configured remote endpoint tracked by the registry.
// ID is caller-assigned at creation and immutable. Port is kept as a string;
// the API boundary validates it as an integer in [1,65535].
type Server struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Port      string    `json:"port"`
	AutoStart bool      `json:"auto_start"`
	Status    Status    `json:"status"`
	Ping      *PingInfo `json:"ping,omitempty"`
}

// Endpoint returns the "host:port" form of the server address.
func (s Server) Endpoint() string {
	return net.JoinHostPort(s.Address, s.Port)
}

// clone returns a deep copy, so snapshots never alias registry state.
func (s Server) clone() Server {
	if s.Ping != nil {
		ping := *s.Ping
		s.Ping = &ping
	}
	return s
}

// Record is the persisted form of a server: identity and connection
// settings only. Status and ping metadata are deliberately absent so a
// reloaded registry never presents stale liveness data.
type Record struct {
	ID        string
	Name      string
	Address   string
	Port      string
	AutoStart bool
}

// Store is the persistence capability: a single load/save of the whole
// server list. Save is write-through after every mutation; failures are
// logged and the in-memory collection remains authoritative.
type Store interface {
	Load() ([]Record, error)
	Save([]Record) error
}

// Launcher is the relay lifecycle capability. Start failures surface as
// errors so the registry can mark the server offline; Stop is best-effort
// and never fails out of the launcher.
type Launcher interface {
	Start(ctx context.Context, srv Server) error
	Stop(ctx context.Context, srv Server)
}

// Waker lets the registry request an immediate out-of-cycle probe after a
// relay start succeeds.
type Waker interface {
	ProbeNow(id string)
}
