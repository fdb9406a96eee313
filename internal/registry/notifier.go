package registry

import (
	"log"
	"sync"
)

// Subscriber receives a snapshot of the full server collection after every
// registry mutation. Delivery is synchronous and in subscription order;
// long-running subscribers should hand off to their own goroutine.
type Subscriber func([]Server)

// subscription wraps a callback so the same function value can be
// subscribed more than once and removed individually.
type subscription struct {
	fn Subscriber
}

// notifier fans registry snapshots out to subscribers. A panicking
// subscriber is logged and skipped; it never prevents delivery to the
// remaining subscribers or propagates into the triggering mutation.
type notifier struct {
	mu   sync.Mutex
	subs []*subscription
}

// subscribe registers fn and returns a function that removes exactly this
// registration.
func (n *notifier) subscribe(fn Subscriber) func() {
	sub := &subscription{fn: fn}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s == sub {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

// publish delivers servers to every subscriber in subscription order.
// Each subscriber gets its own copy of the slice so one subscriber cannot
// disturb what a later one sees.
func (n *notifier) publish(servers []Server) {
	n.mu.Lock()
	subs := make([]*subscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, sub := range subs {
		snapshot := make([]Server, len(servers))
		for i, srv := range servers {
			snapshot[i] = srv.clone()
		}
		deliver(sub.fn, snapshot)
	}
}

func deliver(fn Subscriber, snapshot []Server) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("registry subscriber panicked: %v", r)
		}
	}()
	fn(snapshot)
}
