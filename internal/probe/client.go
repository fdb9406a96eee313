package probe

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"
)

// Client is a UDP prober for Bedrock servers. It is safe for concurrent
// use; each Ping opens its own socket so concurrent probes against
// different endpoints never share state.
type Client struct {
	timeout time.Duration
}

// NewClient creates a prober. timeout bounds the full ping round-trip
// unless the caller's context imposes a tighter deadline.
func NewClient(timeout time.Duration) *Client {
	return &Client{timeout: timeout}
}

// Ping sends an unconnected ping to address ("host:port") and waits for the
// pong response. Datagrams that are not a pong (e.g. stray traffic on the
// socket) are skipped until the deadline expires.
func (c *Client) Ping(ctx context.Context, address string) (*Pong, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	pingTime := uint64(time.Now().UnixMilli())
	packet := buildUnconnectedPing(pingTime, rand.Uint64())
	if _, err := conn.Write(packet); err != nil {
		return nil, fmt.Errorf("send ping to %s: %w", address, err)
	}

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("read pong from %s: %w", address, err)
		}
		if n == 0 || buf[0] != idUnconnectedPong {
			continue
		}
		pong, err := parseUnconnectedPong(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("parse pong from %s: %w", address, err)
		}
		return pong, nil
	}
}

var _ Prober = (*Client)(nil)
