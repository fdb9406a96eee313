// Package relay manages phantom relay instances, one per configured server.
// A relay advertises the remote server on the local network and forwards
// game traffic to it. Two backends exist: a child process running the
// phantom binary, and a Docker container running the phantom image.
package relay

import "context"

// Options are the relay settings for one instance, mirroring the phantom
// command line.
type Options struct {
	// Remote is the "host:port" of the server the relay forwards to.
	Remote string
	// Bind is the local address the relay listens on.
	Bind string
	// BindPort is the local UDP port, 0 for an ephemeral port.
	BindPort int
	// IPv6 enables IPv6 support in the relay.
	IPv6 bool
}

// Handle is one relay instance. Start and Stop are idempotent at the
// supervisor level, not the handle level: the supervisor guarantees each
// handle sees at most one Start and one successful Stop.
type Handle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Factory creates a handle for a server ID. It must not start the relay;
// that is the supervisor's job.
type Factory func(id string, opts Options) (Handle, error)
