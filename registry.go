package ermis

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Handler receives the JSON payload of each event delivered on a topic.
type Handler func(payload json.RawMessage)

// subscription is one record of the topic registry. The listener is the
// handle attached to the stream on the subscriber's behalf.
type subscription struct {
	topic    string
	handler  Handler
	listener *Listener
	active   atomic.Bool
}

func newSubscription(topic string, handler Handler) *subscription {
	sub := &subscription{topic: topic, handler: handler}
	sub.listener = NewListener(func(data []byte) {
		// A removed record may still be attached to a stream for a moment.
		if sub.active.Load() {
			sub.handler(json.RawMessage(data))
		}
	})
	sub.active.Store(true)
	return sub
}

// registry maps topic names to their current subscription.
type registry struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]*subscription)}
}

// add records a subscription for topic. A later add for the same topic
// replaces the stored record.
func (r *registry) add(topic string, handler Handler) *subscription {
	sub := newSubscription(topic, handler)
	r.mu.Lock()
	r.subs[topic] = sub
	r.mu.Unlock()
	return sub
}

// remove deactivates sub and drops it if it is still the current record for
// its topic. It reports whether it dropped the record and whether the
// registry is empty afterwards.
func (r *registry) remove(sub *subscription) (removed, empty bool) {
	sub.active.Store(false)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[sub.topic] == sub {
		delete(r.subs, sub.topic)
		removed = true
	}
	return removed, len(r.subs) == 0
}

// current reports whether sub is still the registered record for its topic.
func (r *registry) current(sub *subscription) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[sub.topic] == sub
}

func (r *registry) isEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs) == 0
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// snapshot returns the current records for resubscription.
func (r *registry) snapshot() []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	return subs
}

// topics returns the registered topic names.
func (r *registry) topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.subs))
	for name := range r.subs {
		names = append(names, name)
	}
	return names
}
