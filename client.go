package refetch

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Client is an isolated cache session. It owns the entry store, the
// in-flight fetch group, the subscriber registry, and the garbage
// collector. Construct one per application (or per test) with New and
// release it with Close; there is no process-wide instance.
type Client struct {
	store *store
	subs  *subscriptions
	group singleflight.Group
	opts  *clientOptions
	log   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a cache client.
//
// Example:
//
//	c := refetch.New(
//	    refetch.WithDefaultStaleAfter(30 * time.Second),
//	    refetch.WithGCInterval(time.Minute),
//	)
//	defer c.Close()
func New(opts ...Option) *Client {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{
		store: newStore(o.staleAfter, o.retainFor),
		subs:  newSubscriptions(),
		opts:  o,
		log:   log,
		done:  make(chan struct{}),
	}

	if o.gcInterval > 0 {
		go c.janitor()
	}

	return c
}

// Close stops background work and cancels in-flight fetches. Cancellation
// is advisory: a fetch that completes anyway still settles its entry, but
// no new queries or mutations are accepted. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.store.cancelInFlight()
		c.subs.closeAll()
	})
	return nil
}

func (c *Client) now() time.Time {
	return c.opts.now()
}

// commitAndNotify applies a state transition and dispatches the resulting
// snapshot to all subscribers of the key, in that order.
func (c *Client) commitAndNotify(key Key, mutate func(*entry)) Result {
	res := c.store.commit(key, c.now(), mutate)
	c.subs.notify(key, res)
	return res
}

// Set seeds the cache with data for key without issuing a fetch, as if a
// fetch had just succeeded. Subscribers are notified.
func (c *Client) Set(key Key, data any) {
	if c.closed.Load() {
		return
	}
	now := c.now()
	c.commitAndNotify(key, func(e *entry) {
		e.data = data
		e.hasData = true
		e.err = nil
		e.status = StatusSuccess
		e.fetchedAt = now
		e.invalidated = false
	})
}

// Peek returns the current snapshot for key without subscribing and
// without triggering any fetch. The second return is false when no entry
// exists.
func (c *Client) Peek(key Key) (Result, bool) {
	return c.store.view(key, c.now())
}

// Invalidate marks the entries for keys as no longer trustworthy. The
// next query for an invalidated key fetches regardless of its freshness
// window. Keys with no entry are ignored.
func (c *Client) Invalidate(keys ...Key) {
	for _, key := range keys {
		if !c.store.has(key) {
			continue
		}
		c.commitAndNotify(key, func(e *entry) {
			e.invalidated = true
		})
	}
}

// InvalidateMatching invalidates every entry whose key starts with prefix,
// e.g. InvalidateMatching(refetch.K("events")) hits K("events") and
// K("events", 42) both.
func (c *Client) InvalidateMatching(prefix Key) {
	for _, key := range c.store.keys() {
		if key.HasPrefix(prefix) {
			c.Invalidate(key)
		}
	}
}

// janitor periodically collects unobserved entries past their retention
// window.
func (c *Client) janitor() {
	ticker := time.NewTicker(c.opts.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// collect runs one garbage-collection sweep. Exposed indirectly through
// the janitor; removal is never observable to subscribers.
func (c *Client) collect() {
	removed := c.store.sweep(c.now(), c.subs.observed)
	if removed > 0 {
		c.log.Debug("collected cache entries", "removed", removed)
	}
}
