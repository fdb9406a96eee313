package relay

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/lanward/lanward/internal/registry"
)

// Supervisor owns the live relay handles, keyed by server ID. It is the
// single component allowed to start or stop relays; everything else goes
// through the registry, which calls the supervisor as its Launcher.
type Supervisor struct {
	factory  Factory
	defaults Options // Remote is filled in per server

	mu      sync.Mutex
	handles map[string]Handle
}

func NewSupervisor(factory Factory, defaults Options) *Supervisor {
	return &Supervisor{
		factory:  factory,
		defaults: defaults,
		handles:  make(map[string]Handle),
	}
}

// Start brings up the relay for srv. If a handle already exists for the ID
// it is reused and restarted rather than replaced, so a relay that died or
// was stopped resumes under the same handle. The handle is registered
// before the (possibly slow) start call so a concurrent Stop can find it.
func (s *Supervisor) Start(ctx context.Context, srv registry.Server) error {
	opts := s.defaults
	opts.Remote = srv.Endpoint()

	s.mu.Lock()
	h, ok := s.handles[srv.ID]
	if !ok {
		var err error
		h, err = s.factory(srv.ID, opts)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("create relay for %s: %w", srv.ID, err)
		}
		s.handles[srv.ID] = h
	}
	s.mu.Unlock()

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("start relay for %s: %w", srv.ID, err)
	}
	log.Printf("Relay started for %s -> %s", srv.ID, opts.Remote)
	return nil
}

// Stop tears down the relay for srv. Unknown IDs are a no-op. On a stop
// failure the handle stays registered so a later Stop or Shutdown can
// retry; the error itself is logged and swallowed.
func (s *Supervisor) Stop(ctx context.Context, srv registry.Server) {
	s.mu.Lock()
	h, ok := s.handles[srv.ID]
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := h.Stop(ctx); err != nil {
		log.Printf("Relay stop failed for %s: %v", srv.ID, err)
		return
	}

	s.mu.Lock()
	delete(s.handles, srv.ID)
	s.mu.Unlock()
	log.Printf("Relay stopped for %s", srv.ID)
}

// Has reports whether a relay handle is currently registered for id.
func (s *Supervisor) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[id]
	return ok
}

// Shutdown stops all relays concurrently and returns when every stop has
// completed or ctx expires. It never fails; stop errors are logged by the
// individual stops.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	handles := make(map[string]Handle, len(s.handles))
	for id, h := range s.handles {
		handles[id] = h
	}
	s.handles = make(map[string]Handle)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for id, h := range handles {
		wg.Add(1)
		go func(id string, h Handle) {
			defer wg.Done()
			if err := h.Stop(ctx); err != nil {
				log.Printf("Relay stop failed for %s during shutdown: %v", id, err)
			}
		}(id, h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("Relay shutdown interrupted: %v", ctx.Err())
	}
}

var _ registry.Launcher = (*Supervisor)(nil)
