package refetch

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription is an explicit handle on one observed cache key. Obtain it
// with [Client.Subscribe] and release it with the paired Close; there is
// no implicit lifecycle.
type Subscription struct {
	id      uuid.UUID
	key     Key
	updates chan Result
	c       *Client
	once    sync.Once
}

// Key returns the observed cache key.
func (s *Subscription) Key() Key {
	return s.key
}

// Updates delivers entry snapshots after each state change. Delivery is
// conflated: a slow consumer always receives the latest state and may
// skip intermediate ones; a cache write never blocks on a consumer. The
// channel is closed by Close.
func (s *Subscription) Updates() <-chan Result {
	return s.updates
}

// Close detaches the subscription. When the last subscriber of a key
// detaches, an in-flight fetch for it is cooperatively canceled and the
// entry's retention countdown starts. Close is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		last := s.c.subs.remove(s)
		if last && s.c.store.has(s.key) {
			now := s.c.now()
			s.c.store.commit(s.key, now, func(e *entry) {
				e.detachedAt = now
				if e.cancel != nil {
					e.cancel()
				}
			})
		}
	})
}

// Subscribe starts observing key. The current state, if an entry exists,
// is delivered immediately. Subscribing never triggers a fetch; pair it
// with Query to populate the entry.
func (c *Client) Subscribe(key Key) *Subscription {
	s := &Subscription{
		id:      uuid.New(),
		key:     key,
		updates: make(chan Result, 1),
		c:       c,
	}
	var initial *Result
	if c.store.has(key) {
		res := c.store.commit(key, c.now(), func(e *entry) {
			e.detachedAt = time.Time{}
		})
		initial = &res
	}
	c.subs.add(s, initial)
	return s
}

// subscriptions is the registry of active subscriptions, keyed by the
// canonical key serialization.
type subscriptions struct {
	mu     sync.Mutex
	byKey  map[string]map[uuid.UUID]*Subscription
	closed bool
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		byKey: make(map[string]map[uuid.UUID]*Subscription),
	}
}

// add registers s and delivers the initial snapshot, if any, under the
// lock so it cannot race a concurrent Close.
func (r *subscriptions) add(s *Subscription, initial *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		close(s.updates)
		return
	}

	k := s.key.String()
	m, ok := r.byKey[k]
	if !ok {
		m = make(map[uuid.UUID]*Subscription)
		r.byKey[k] = m
	}
	m[s.id] = s

	if initial != nil {
		s.updates <- *initial
	}
}

// remove detaches s and reports whether it was the last subscriber of its
// key. The update channel is closed here, under the lock, so notify can
// never send on a closed channel.
func (r *subscriptions) remove(s *Subscription) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	k := s.key.String()
	m, ok := r.byKey[k]
	if !ok {
		return false
	}
	if _, ok := m[s.id]; !ok {
		return false
	}

	delete(m, s.id)
	close(s.updates)
	if len(m) == 0 {
		delete(r.byKey, k)
		return true
	}
	return false
}

// observed reports whether any subscriber currently watches the canonical
// key k. Used by the garbage collector.
func (r *subscriptions) observed(k string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byKey[k]) > 0
}

// notify dispatches res to every subscriber of key. Sends are conflated:
// a pending undelivered update is replaced by the newer one.
func (r *subscriptions) notify(key Key, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.byKey[key.String()] {
		select {
		case s.updates <- res:
		default:
			// Drop the pending snapshot, then push the latest. The inner
			// send only misses if the consumer raced the drain, in which
			// case it already took the newer of the two.
			select {
			case <-s.updates:
			default:
			}
			select {
			case s.updates <- res:
			default:
			}
		}
	}
}

// closeAll closes every update channel and rejects future registrations.
// Called from Client.Close.
func (r *subscriptions) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	for _, m := range r.byKey {
		for _, s := range m {
			close(s.updates)
		}
	}
	r.byKey = make(map[string]map[uuid.UUID]*Subscription)
}
