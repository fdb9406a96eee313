// Package probe implements the liveness probe against Bedrock server
// endpoints: a RakNet unconnected ping over UDP that returns the server's
// pong payload (MOTD, player counts, version info).
//
// The rest of the application depends only on the Prober interface; the
// concrete UDP client lives in client.go and the wire codec in packet.go.
package probe

import "context"

// Pong is the decoded payload of an unconnected pong response.
// All fields are carried as the server sent them (strings on the wire).
type Pong struct {
	Edition         string `json:"edition"`
	MOTD            string `json:"motd"`
	ProtocolVersion string `json:"protocol_version"`
	Version         string `json:"version"`
	Players         string `json:"players"`
	MaxPlayers      string `json:"max_players"`
	ServerID        string `json:"server_id"`
	SubMOTD         string `json:"sub_motd"`
	GameMode        string `json:"game_mode"`
	GameModeNumeric string `json:"game_mode_numeric"`
	PortV4          string `json:"port_v4"`
	PortV6          string `json:"port_v6"`
}

// Prober pings a server endpoint ("host:port") and returns its pong.
// Any failure (timeout, refused connection, malformed response) is returned
// as an error; callers treat all probe errors uniformly.
type Prober interface {
	Ping(ctx context.Context, address string) (*Pong, error)
}
