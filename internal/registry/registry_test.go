package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store with an optional injected failure.
type memStore struct {
	mu      sync.Mutex
	records []Record
	saveErr error
	saves   int
}

func (m *memStore) Load() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...), nil
}

func (m *memStore) Save(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records = append([]Record(nil), records...)
	return nil
}

// fakeLauncher records start/stop calls, can fail starts on demand, and
// can hold starts or stops on a gate to force call interleavings.
type fakeLauncher struct {
	mu        sync.Mutex
	started   []string
	stopped   []string
	startErr  error
	startGate chan struct{} // when set, Start waits here before recording
	stopGate  chan struct{} // when set, Stop waits here after recording
}

func (f *fakeLauncher) Start(_ context.Context, srv Server) error {
	f.mu.Lock()
	gate := f.startGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, srv.ID)
	return f.startErr
}

func (f *fakeLauncher) Stop(_ context.Context, srv Server) {
	f.mu.Lock()
	f.stopped = append(f.stopped, srv.ID)
	gate := f.stopGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (f *fakeLauncher) startCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.started {
		if s == id {
			n++
		}
	}
	return n
}

func (f *fakeLauncher) stopCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.stopped {
		if s == id {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func addSpec(id string) AddSpec {
	return AddSpec{ID: id, Name: id, Address: "mc.example.com", Port: "19132", AutoStart: true}
}

func TestAddAndSnapshot(t *testing.T) {
	store := &memStore{}
	launcher := &fakeLauncher{}
	reg := New(store, launcher, 0)

	srv, err := reg.Add(context.Background(), addSpec("a"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if srv.Status != StatusConnecting {
		t.Errorf("new server status = %q, want %q", srv.Status, StatusConnecting)
	}

	snap := reg.Snapshot()
	if len(snap) != 1 || snap[0].ID != "a" {
		t.Fatalf("snapshot = %+v, want one server with ID a", snap)
	}

	waitFor(t, "relay start", func() bool { return launcher.startCount("a") == 1 })
	waitFor(t, "status starting", func() bool {
		s, _ := reg.Get("a")
		return s.Status == StatusStarting
	})
}

func TestAddDuplicateID(t *testing.T) {
	reg := New(&memStore{}, nil, 0)

	if _, err := reg.Add(context.Background(), addSpec("a")); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, err := reg.Add(context.Background(), addSpec("a")); err == nil {
		t.Fatal("duplicate Add succeeded, want error")
	}
	if len(reg.Snapshot()) != 1 {
		t.Errorf("collection grew on duplicate add")
	}
}

func TestAddStartFailureGoesOffline(t *testing.T) {
	launcher := &fakeLauncher{startErr: errors.New("bind failed")}
	reg := New(&memStore{}, launcher, 0)

	if _, err := reg.Add(context.Background(), addSpec("a")); err != nil {
		t.Fatalf("Add should succeed despite later start failure: %v", err)
	}

	waitFor(t, "status offline", func() bool {
		s, _ := reg.Get("a")
		return s.Status == StatusOffline
	})
	s, _ := reg.Get("a")
	if s.Ping != nil {
		t.Errorf("ping metadata present on never-probed server")
	}
}

func TestRemoveStopsRelay(t *testing.T) {
	launcher := &fakeLauncher{}
	reg := New(&memStore{}, launcher, 0)

	reg.Add(context.Background(), addSpec("b"))
	waitFor(t, "relay start", func() bool { return launcher.startCount("b") == 1 })

	reg.Remove(context.Background(), "b")

	if launcher.stopCount("b") != 1 {
		t.Errorf("stop called %d times, want 1", launcher.stopCount("b"))
	}
	if len(reg.Snapshot()) != 0 {
		t.Errorf("server still present after Remove")
	}
}

func TestRemoveDuringDetachedStartStopsRelay(t *testing.T) {
	launcher := &fakeLauncher{startGate: make(chan struct{})}
	reg := New(&memStore{}, launcher, 0)

	reg.Add(context.Background(), addSpec("a"))
	reg.Remove(context.Background(), "a")

	// The remove completed before the detached start got anywhere: its own
	// stop found nothing running.
	if launcher.startCount("a") != 0 {
		t.Fatal("start slipped in before remove")
	}
	if launcher.stopCount("a") != 1 {
		t.Fatalf("stop called %d times during remove, want 1", launcher.stopCount("a"))
	}

	close(launcher.startGate)

	// The late start must notice the server is gone and release the relay.
	waitFor(t, "late start", func() bool { return launcher.startCount("a") == 1 })
	waitFor(t, "stop of orphaned relay", func() bool { return launcher.stopCount("a") == 2 })
	if len(reg.Snapshot()) != 0 {
		t.Errorf("server resurfaced after remove")
	}
}

func TestConcurrentRemovesNotifyOnce(t *testing.T) {
	launcher := &fakeLauncher{stopGate: make(chan struct{})}
	store := &memStore{}
	reg := New(store, launcher, 0)

	reg.Add(context.Background(), addSpec("a"))
	waitFor(t, "relay start settled", func() bool {
		s, _ := reg.Get("a")
		return s.Status == StatusStarting
	})

	var mu sync.Mutex
	var notifies int
	defer reg.Subscribe(func([]Server) {
		mu.Lock()
		notifies++
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Remove(context.Background(), "a")
		}()
	}

	// Both removes find the server and block in the relay stop; only the
	// one that wins the re-check may persist and notify.
	waitFor(t, "both removes stopping", func() bool { return launcher.stopCount("a") == 2 })
	close(launcher.stopGate)
	wg.Wait()

	mu.Lock()
	n := notifies
	mu.Unlock()
	if n != 1 {
		t.Errorf("concurrent removes notified %d times, want 1", n)
	}
	if len(reg.Snapshot()) != 0 {
		t.Errorf("server still present after removes")
	}
}

func TestRemoveUnknownIsNoOp(t *testing.T) {
	store := &memStore{}
	reg := New(store, nil, 0)
	reg.Add(context.Background(), addSpec("a"))

	var notifies int
	var mu sync.Mutex
	defer reg.Subscribe(func([]Server) {
		mu.Lock()
		notifies++
		mu.Unlock()
	})()

	reg.Remove(context.Background(), "nope")

	mu.Lock()
	n := notifies
	mu.Unlock()
	if n != 0 {
		t.Errorf("remove of unknown ID notified %d times, want 0", n)
	}
	if len(reg.Snapshot()) != 1 {
		t.Errorf("collection changed on unknown remove")
	}
}

func TestUpdateUnknownIsNoOp(t *testing.T) {
	reg := New(&memStore{}, nil, 0)

	var notifies int
	var mu sync.Mutex
	defer reg.Subscribe(func([]Server) {
		mu.Lock()
		notifies++
		mu.Unlock()
	})()

	name := "renamed"
	reg.Update(context.Background(), "nope", UpdateSpec{Name: &name})

	mu.Lock()
	defer mu.Unlock()
	if notifies != 0 {
		t.Errorf("update of unknown ID notified %d times, want 0", notifies)
	}
}

func TestUpdateRestartsRelay(t *testing.T) {
	launcher := &fakeLauncher{}
	reg := New(&memStore{}, launcher, 0)

	reg.Add(context.Background(), addSpec("a"))
	waitFor(t, "initial start", func() bool { return launcher.startCount("a") == 1 })

	addr := "other.example.com"
	reg.Update(context.Background(), "a", UpdateSpec{Address: &addr})

	if launcher.stopCount("a") != 1 {
		t.Errorf("stop called %d times during update, want 1", launcher.stopCount("a"))
	}
	waitFor(t, "restart", func() bool { return launcher.startCount("a") == 2 })

	s, _ := reg.Get("a")
	if s.Address != addr {
		t.Errorf("address = %q, want %q", s.Address, addr)
	}
	if s.Port != "19132" {
		t.Errorf("port changed by partial update: %q", s.Port)
	}
}

func TestSetAutoStart(t *testing.T) {
	store := &memStore{}
	reg := New(store, nil, 0)
	reg.Add(context.Background(), addSpec("a"))

	reg.SetAutoStart(context.Background(), "a", false)

	s, _ := reg.Get("a")
	if s.AutoStart {
		t.Errorf("AutoStart still true")
	}

	recs, _ := store.Load()
	if len(recs) != 1 || recs[0].AutoStart {
		t.Errorf("persisted AutoStart = %+v, want false", recs)
	}
}

func TestReloadResetsStatusAndMetadata(t *testing.T) {
	store := &memStore{}
	reg := New(store, nil, 0)

	reg.Add(context.Background(), addSpec("a"))
	reg.Add(context.Background(), addSpec("b"))
	reg.ApplyPing("a", PingInfo{Players: 3, MaxPlayers: 20, MOTD: "hi", CheckedAt: time.Now()})
	reg.Remove(context.Background(), "b")
	reg.Add(context.Background(), addSpec("c"))

	// Simulate a process restart over the same store.
	reloaded := New(store, nil, 0)
	reloaded.Initialize(context.Background())

	snap := reloaded.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("reloaded %d servers, want 2", len(snap))
	}
	wantIDs := []string{"a", "c"}
	for i, srv := range snap {
		if srv.ID != wantIDs[i] {
			t.Errorf("server[%d].ID = %q, want %q", i, srv.ID, wantIDs[i])
		}
		if srv.Status != StatusOffline {
			t.Errorf("server %s reloaded with status %q, want offline", srv.ID, srv.Status)
		}
		if srv.Ping != nil {
			t.Errorf("server %s reloaded with stale ping metadata", srv.ID)
		}
	}
}

func TestInitializeAutoStartsFlaggedServers(t *testing.T) {
	store := &memStore{records: []Record{
		{ID: "a", Name: "a", Address: "one.example.com", Port: "19132", AutoStart: true},
		{ID: "b", Name: "b", Address: "two.example.com", Port: "19132", AutoStart: false},
	}}
	launcher := &fakeLauncher{}
	reg := New(store, launcher, 30*time.Second)

	reg.Initialize(context.Background())

	waitFor(t, "auto-start of a", func() bool { return launcher.startCount("a") == 1 })
	if launcher.startCount("b") != 0 {
		t.Errorf("non-flagged server was auto-started")
	}
}

func TestInitializeAutoStartBound(t *testing.T) {
	store := &memStore{records: []Record{
		{ID: "a", Name: "a", Address: "one.example.com", Port: "19132", AutoStart: true},
	}}
	launcher := &fakeLauncher{startGate: make(chan struct{})}
	reg := New(store, launcher, 30*time.Millisecond)

	// The launcher ignores its context entirely; the registry still has to
	// give up at the bound instead of blocking on the start.
	reg.Initialize(context.Background())
	time.Sleep(100 * time.Millisecond)

	s, _ := reg.Get("a")
	if s.Status != StatusOffline {
		t.Fatalf("status = %q past the start bound, want offline", s.Status)
	}

	// A start succeeding after the bound counts as a failure: the status
	// stays offline until a probe says otherwise.
	close(launcher.startGate)
	waitFor(t, "late start return", func() bool { return launcher.startCount("a") == 1 })
	time.Sleep(50 * time.Millisecond)

	s, _ = reg.Get("a")
	if s.Status != StatusOffline {
		t.Errorf("late start success flipped status to %q, want offline", s.Status)
	}
	if launcher.stopCount("a") != 0 {
		t.Errorf("late start for a still-present server stopped the relay")
	}
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	reg := New(store, nil, 0)

	if _, err := reg.Add(context.Background(), addSpec("a")); err != nil {
		t.Fatalf("Add surfaced a persistence error: %v", err)
	}
	if len(reg.Snapshot()) != 1 {
		t.Errorf("in-memory state lost on persist failure")
	}
}

func TestApplyPingAndMarkOffline(t *testing.T) {
	reg := New(&memStore{}, nil, 0)
	reg.Add(context.Background(), addSpec("a"))

	info := PingInfo{Players: 3, MaxPlayers: 20, MOTD: "line1", SubMOTD: "line2", CheckedAt: time.Now()}
	reg.ApplyPing("a", info)

	s, _ := reg.Get("a")
	if s.Status != StatusOnline {
		t.Errorf("status = %q after successful ping, want online", s.Status)
	}
	if s.Ping == nil || s.Ping.Players != 3 || s.Ping.MOTD != "line1" {
		t.Errorf("ping metadata = %+v, want players=3 motd=line1", s.Ping)
	}

	reg.MarkOffline("a", "probe failed")
	s, _ = reg.Get("a")
	if s.Status != StatusOffline {
		t.Errorf("status = %q after failed ping, want offline", s.Status)
	}
	if s.Ping == nil {
		t.Errorf("last successful metadata cleared by failure; only reload clears it")
	}

	// Results for removed servers are dropped silently.
	reg.ApplyPing("ghost", info)
	reg.MarkOffline("ghost", "probe failed")
}

func TestSnapshotIsACopy(t *testing.T) {
	reg := New(&memStore{}, nil, 0)
	reg.Add(context.Background(), addSpec("a"))
	reg.ApplyPing("a", PingInfo{Players: 1})

	snap := reg.Snapshot()
	snap[0].Name = "mutated"
	snap[0].Ping.Players = 99

	s, _ := reg.Get("a")
	if s.Name != "a" || s.Ping.Players != 1 {
		t.Errorf("mutating a snapshot leaked into the registry: %+v", s)
	}
}

func TestSubscriberPanicDoesNotBlockOthers(t *testing.T) {
	reg := New(&memStore{}, nil, 0)

	var mu sync.Mutex
	var order []string

	defer reg.Subscribe(func([]Server) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		panic("boom")
	})()
	defer reg.Subscribe(func([]Server) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})()

	reg.Add(context.Background(), addSpec("a"))

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery order = %v, want [first second]", order)
	}
}

func TestUnsubscribeRemovesExactlyOne(t *testing.T) {
	reg := New(&memStore{}, nil, 0)

	var mu sync.Mutex
	counts := make(map[int]int)
	count := func(i int) Subscriber {
		return func([]Server) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		}
	}

	unsub1 := reg.Subscribe(count(1))
	defer reg.Subscribe(count(2))()

	reg.Add(context.Background(), addSpec("a"))
	unsub1()
	unsub1() // second call is harmless
	reg.Add(context.Background(), addSpec("b"))

	mu.Lock()
	defer mu.Unlock()
	if counts[1] != 1 {
		t.Errorf("unsubscribed callback ran %d times, want 1", counts[1])
	}
	if counts[2] != 2 {
		t.Errorf("remaining callback ran %d times, want 2", counts[2])
	}
}

func TestInsertionOrderSurvivesStatusChanges(t *testing.T) {
	reg := New(&memStore{}, nil, 0)
	for i := 0; i < 5; i++ {
		reg.Add(context.Background(), addSpec(fmt.Sprintf("s%d", i)))
	}

	reg.ApplyPing("s3", PingInfo{Players: 1})
	reg.MarkOffline("s0", "down")

	snap := reg.Snapshot()
	for i, srv := range snap {
		if want := fmt.Sprintf("s%d", i); srv.ID != want {
			t.Errorf("snapshot[%d].ID = %q, want %q", i, srv.ID, want)
		}
	}
}
