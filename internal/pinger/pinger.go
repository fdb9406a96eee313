// Package pinger schedules health probes against the configured servers
// and feeds the results back into the registry.
package pinger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/lanward/lanward/internal/probe"
	"github.com/lanward/lanward/internal/registry"
)

// Targets is the slice of the registry the scheduler needs.
type Targets interface {
	Snapshot() []registry.Server
	Get(id string) (registry.Server, bool)
	Subscribe(fn registry.Subscriber) func()
	ApplyPing(id string, info registry.PingInfo)
	MarkOffline(id, reason string)
}

// Scheduler probes every non-offline server once per interval. Servers
// that just appeared, plus everything on the first pass, are probed
// regardless of status so a freshly added or reloaded server gets an
// immediate verdict instead of waiting out its offline filter.
//
// At most one probe is in flight per server. A tick that lands while the
// previous probe for a server is still running skips that server.
type Scheduler struct {
	targets  Targets
	prober   probe.Prober
	interval time.Duration

	mu       sync.Mutex
	inflight map[string]bool
	known    map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
}

func New(targets Targets, prober probe.Prober, interval time.Duration) *Scheduler {
	return &Scheduler{
		targets:  targets,
		prober:   prober,
		interval: interval,
		inflight: make(map[string]bool),
		known:    make(map[string]bool),
	}
}

// Start begins the probe loop and subscribes to registry changes so new
// servers are probed as soon as they appear. Call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.mu.Lock()
	for _, srv := range s.targets.Snapshot() {
		s.known[srv.ID] = true
	}
	s.mu.Unlock()

	s.unsub = s.targets.Subscribe(s.onChange)

	s.sweep(true)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.sweep(false)
			}
		}
	}()
}

// Stop halts the loop and cancels in-flight probes.
func (s *Scheduler) Stop() {
	if s.unsub != nil {
		s.unsub()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// ProbeNow requests an immediate out-of-cycle probe, typically right after
// a relay start. Unknown IDs are ignored.
func (s *Scheduler) ProbeNow(id string) {
	if srv, ok := s.targets.Get(id); ok {
		s.probeOne(srv)
	}
}

// sweep probes the current collection. When all is false, offline servers
// are skipped; they re-enter the cycle via ProbeNow or by reappearing.
func (s *Scheduler) sweep(all bool) {
	for _, srv := range s.targets.Snapshot() {
		if !all && srv.Status == registry.StatusOffline {
			continue
		}
		s.probeOne(srv)
	}
}

// onChange diffs the published ID set against the last seen one and probes
// newcomers unconditionally.
func (s *Scheduler) onChange(servers []registry.Server) {
	s.mu.Lock()
	known := make(map[string]bool, len(servers))
	var fresh []registry.Server
	for _, srv := range servers {
		known[srv.ID] = true
		if !s.known[srv.ID] {
			fresh = append(fresh, srv)
		}
	}
	s.known = known
	s.mu.Unlock()

	for _, srv := range fresh {
		s.probeOne(srv)
	}
}

// probeOne issues a probe for srv unless one is already in flight. The
// in-flight flag is set before the probe starts and cleared before the
// result is applied, so a result application can never shadow the next
// probe of the same server.
func (s *Scheduler) probeOne(srv registry.Server) {
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.inflight[srv.ID] {
		s.mu.Unlock()
		return
	}
	s.inflight[srv.ID] = true
	s.mu.Unlock()

	go func() {
		pong, err := s.prober.Ping(s.ctx, srv.Endpoint())

		s.mu.Lock()
		delete(s.inflight, srv.ID)
		s.mu.Unlock()

		if err != nil {
			s.targets.MarkOffline(srv.ID, err.Error())
			return
		}
		s.targets.ApplyPing(srv.ID, pingInfo(pong))
	}()
}

// pingInfo converts a raw pong into registry metadata. Non-numeric player
// counts come through as zero.
func pingInfo(pong *probe.Pong) registry.PingInfo {
	players, _ := strconv.Atoi(pong.Players)
	maxPlayers, _ := strconv.Atoi(pong.MaxPlayers)
	return registry.PingInfo{
		Players:    players,
		MaxPlayers: maxPlayers,
		MOTD:       pong.MOTD,
		SubMOTD:    pong.SubMOTD,
		CheckedAt:  time.Now(),
	}
}

var _ registry.Waker = (*Scheduler)(nil)
