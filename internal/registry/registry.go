// Package registry owns the authoritative in-memory collection of
// configured servers and their live status, persists it write-through, and
// drives relay lifecycle side effects for every mutation.
//
// One Registry is constructed per process and shut down exactly once. All
// mutating operations serialize on an internal mutex: callers may invoke
// them from any goroutine, but the collection behaves as if it had a single
// writer. Readers get copies; no caller ever observes the collection being
// mutated in place.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// AddSpec describes a server to create. An empty ID is filled in by the
// caller-facing API layer; the registry itself requires one.
type AddSpec struct {
	ID        string
	Name      string
	Address   string
	Port      string
	AutoStart bool
}

// UpdateSpec is a partial update. Nil fields are left unchanged. ID,
// status and ping metadata are not caller-settable.
type UpdateSpec struct {
	Name    *string
	Address *string
	Port    *string
}

type Registry struct {
	store        Store
	launcher     Launcher // may be nil (tests, read-only tooling)
	startTimeout time.Duration

	mu      sync.Mutex
	servers []*Server // insertion order, never reordered

	notifier notifier

	wakerMu sync.Mutex
	waker   Waker
}

// New creates a registry over the given store and launcher. startTimeout
// bounds relay starts performed during Initialize; zero disables the bound.
func New(store Store, launcher Launcher, startTimeout time.Duration) *Registry {
	return &Registry{
		store:        store,
		launcher:     launcher,
		startTimeout: startTimeout,
	}
}

// SetWaker wires the health scheduler's immediate-probe hook. Call before
// Initialize.
func (r *Registry) SetWaker(w Waker) {
	r.wakerMu.Lock()
	r.waker = w
	r.wakerMu.Unlock()
}

// Initialize loads the persisted server list, publishes it with every
// server offline and no ping metadata, then kicks off relay auto-start in
// the background for servers flagged AutoStart. It returns once the
// collection is published; auto-start completion is only observable through
// status changes.
func (r *Registry) Initialize(ctx context.Context) {
	records, err := r.store.Load()
	if err != nil {
		log.Printf("Registry: load failed, starting empty: %v", err)
		records = nil
	}

	r.mu.Lock()
	r.servers = r.servers[:0]
	for _, rec := range records {
		r.servers = append(r.servers, &Server{
			ID:        rec.ID,
			Name:      rec.Name,
			Address:   rec.Address,
			Port:      rec.Port,
			AutoStart: rec.AutoStart,
			Status:    StatusOffline,
		})
	}
	snapshot := r.snapshotLocked()
	autostart := make([]Server, 0, len(snapshot))
	for _, srv := range snapshot {
		if srv.AutoStart {
			autostart = append(autostart, srv)
		}
	}
	r.mu.Unlock()

	log.Printf("Registry: loaded %d servers (%d auto-start)", len(snapshot), len(autostart))
	r.notifier.publish(snapshot)

	for _, srv := range autostart {
		go func(srv Server) {
			sctx := ctx
			if r.startTimeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(ctx, r.startTimeout)
				defer cancel()
			}
			r.launch(sctx, srv)
		}(srv)
	}
}

// Add appends a new server with status connecting, persists, notifies, and
// starts its relay in the background. The only caller-visible error is a
// duplicate ID; relay start failures are reported through the status
// channel once Add has returned.
func (r *Registry) Add(ctx context.Context, spec AddSpec) (Server, error) {
	if spec.ID == "" {
		return Server{}, fmt.Errorf("server ID is required")
	}

	r.mu.Lock()
	if r.findLocked(spec.ID) != nil {
		r.mu.Unlock()
		return Server{}, fmt.Errorf("server %q already exists", spec.ID)
	}
	srv := &Server{
		ID:        spec.ID,
		Name:      spec.Name,
		Address:   spec.Address,
		Port:      spec.Port,
		AutoStart: spec.AutoStart,
		Status:    StatusConnecting,
	}
	r.servers = append(r.servers, srv)
	added := srv.clone()
	r.persistLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notifier.publish(snapshot)

	go r.launch(context.WithoutCancel(ctx), added)

	return added, nil
}

// Remove stops the server's relay (best-effort), drops it from the
// collection, persists and notifies. Removing an unknown ID is a no-op.
func (r *Registry) Remove(ctx context.Context, id string) {
	r.mu.Lock()
	srv := r.findLocked(id)
	if srv == nil {
		r.mu.Unlock()
		return
	}
	removed := srv.clone()
	r.mu.Unlock()

	if r.launcher != nil {
		r.launcher.Stop(ctx, removed)
	}

	r.mu.Lock()
	found := false
	for i, s := range r.servers {
		if s.ID == id {
			r.servers = append(r.servers[:i], r.servers[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		// A concurrent Remove won the race while the relay was stopping.
		r.mu.Unlock()
		return
	}
	r.persistLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	log.Printf("Registry: removed server %s (%s)", removed.ID, removed.Endpoint())
	r.notifier.publish(snapshot)
}

// Update stops the existing relay, applies the partial spec (name, address,
// port), resets the status to connecting, persists, notifies, and restarts
// the relay in the background with the same semantics as Add. Updating an
// unknown ID is a no-op.
func (r *Registry) Update(ctx context.Context, id string, spec UpdateSpec) {
	r.mu.Lock()
	srv := r.findLocked(id)
	if srv == nil {
		r.mu.Unlock()
		return
	}
	previous := srv.clone()
	r.mu.Unlock()

	if r.launcher != nil {
		r.launcher.Stop(ctx, previous)
	}

	r.mu.Lock()
	srv = r.findLocked(id)
	if srv == nil {
		// Removed while the old relay was stopping.
		r.mu.Unlock()
		return
	}
	if spec.Name != nil {
		srv.Name = *spec.Name
	}
	if spec.Address != nil {
		srv.Address = *spec.Address
	}
	if spec.Port != nil {
		srv.Port = *spec.Port
	}
	srv.Status = StatusConnecting
	updated := srv.clone()
	r.persistLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notifier.publish(snapshot)

	go r.launch(context.WithoutCancel(ctx), updated)
}

// SetAutoStart flips the auto-start flag, persists and notifies. It does
// not touch the relay. Unknown IDs are a no-op.
func (r *Registry) SetAutoStart(_ context.Context, id string, value bool) {
	r.mu.Lock()
	srv := r.findLocked(id)
	if srv == nil || srv.AutoStart == value {
		r.mu.Unlock()
		return
	}
	srv.AutoStart = value
	r.persistLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notifier.publish(snapshot)
}

// Snapshot returns a copy of the current collection in insertion order.
func (r *Registry) Snapshot() []Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Get returns a copy of one server by ID.
func (r *Registry) Get(id string) (Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if srv := r.findLocked(id); srv != nil {
		return srv.clone(), true
	}
	return Server{}, false
}

// Subscribe registers fn for snapshot delivery after every mutation and
// returns the matching unsubscribe function.
func (r *Registry) Subscribe(fn Subscriber) func() {
	return r.notifier.subscribe(fn)
}

// ApplyPing records a successful probe: the server moves to online and its
// ping metadata is replaced wholesale. Unknown IDs (e.g. a probe completing
// after removal) are a no-op.
func (r *Registry) ApplyPing(id string, info PingInfo) {
	r.mu.Lock()
	srv := r.findLocked(id)
	if srv == nil {
		r.mu.Unlock()
		return
	}
	srv.Status = StatusOnline
	srv.Ping = &info
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notifier.publish(snapshot)
}

// MarkOffline records a failed probe or relay start. The last successful
// ping metadata is retained; only a reload clears it. Unknown IDs are a
// no-op.
func (r *Registry) MarkOffline(id, reason string) {
	r.mu.Lock()
	srv := r.findLocked(id)
	if srv == nil || srv.Status == StatusOffline {
		r.mu.Unlock()
		return
	}
	srv.Status = StatusOffline
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	log.Printf("Registry: server %s offline: %s", id, reason)
	r.notifier.publish(snapshot)
}

// launch runs the detached relay-start chain for one server: start the
// relay, move to starting, request an immediate probe. A start failure, or
// a start still pending when ctx expires, degrades to a logged message
// plus offline status; nothing escapes.
func (r *Registry) launch(ctx context.Context, srv Server) {
	if r.launcher == nil {
		return
	}

	errCh := make(chan error, 1)
	go func() { errCh <- r.launcher.Start(ctx, srv) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Printf("Registry: relay start timed out for %s (%s)", srv.ID, srv.Endpoint())
		r.MarkOffline(srv.ID, "relay start timed out")
		go r.reapLateStart(ctx, srv, errCh)
		return
	}
	if err != nil {
		log.Printf("Registry: relay start failed for %s (%s): %v", srv.ID, srv.Endpoint(), err)
		r.MarkOffline(srv.ID, fmt.Sprintf("relay start failed: %v", err))
		return
	}

	// The server may have been removed while the start was in flight; its
	// Remove found no handle to stop, so release the relay here.
	if _, ok := r.Get(srv.ID); !ok {
		r.launcher.Stop(context.WithoutCancel(ctx), srv)
		return
	}

	// The deadline may have lapsed just as the start finished. The relay
	// keeps running, but the target counts as a failed start; the next
	// successful probe corrects the status.
	if ctx.Err() != nil {
		r.MarkOffline(srv.ID, "relay start timed out")
		return
	}

	r.setStatus(srv.ID, StatusStarting)

	r.wakerMu.Lock()
	w := r.waker
	r.wakerMu.Unlock()
	if w != nil {
		w.ProbeNow(srv.ID)
	}
}

// reapLateStart waits out a start that outlived its deadline and stops the
// relay if its server is gone by the time the start returns. A late
// success for a server that still exists leaves the relay running.
func (r *Registry) reapLateStart(ctx context.Context, srv Server, errCh <-chan error) {
	if err := <-errCh; err != nil {
		return
	}
	if _, ok := r.Get(srv.ID); !ok {
		r.launcher.Stop(context.WithoutCancel(ctx), srv)
	}
}

// Shutdown detaches the scheduler hook. Relay teardown is owned by the
// launcher's own shutdown; the collection needs no cleanup.
func (r *Registry) Shutdown() {
	r.wakerMu.Lock()
	r.waker = nil
	r.wakerMu.Unlock()
}

func (r *Registry) setStatus(id string, status Status) {
	r.mu.Lock()
	srv := r.findLocked(id)
	if srv == nil || srv.Status == status {
		r.mu.Unlock()
		return
	}
	srv.Status = status
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notifier.publish(snapshot)
}

// findLocked returns the live entry for id. Caller must hold r.mu.
func (r *Registry) findLocked(id string) *Server {
	for _, srv := range r.servers {
		if srv.ID == id {
			return srv
		}
	}
	return nil
}

// snapshotLocked copies the collection. Caller must hold r.mu.
func (r *Registry) snapshotLocked() []Server {
	out := make([]Server, len(r.servers))
	for i, srv := range r.servers {
		out[i] = srv.clone()
	}
	return out
}

// persistLocked writes the collection through to the store. Persistence is
// best-effort cache: failures are logged and swallowed, memory stays
// authoritative. Caller must hold r.mu.
func (r *Registry) persistLocked() {
	records := make([]Record, len(r.servers))
	for i, srv := range r.servers {
		records[i] = Record{
			ID:        srv.ID,
			Name:      srv.Name,
			Address:   srv.Address,
			Port:      srv.Port,
			AutoStart: srv.AutoStart,
		}
	}
	if err := r.store.Save(records); err != nil {
		log.Printf("Registry: persist failed: %v", err)
	}
}
