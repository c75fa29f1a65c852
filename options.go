package refetch

import (
	"log/slog"
	"time"
)

// Option configures the client.
type Option func(*clientOptions)

type clientOptions struct {
	logger     *slog.Logger
	gcInterval time.Duration
	staleAfter time.Duration
	retainFor  time.Duration
	now        func() time.Time
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		gcInterval: time.Minute,
		staleAfter: 0, // entries are immediately stale unless configured
		retainFor:  5 * time.Minute,
		now:        time.Now,
	}
}

// WithLogger sets the client logger.
// If nil, logging is disabled.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithGCInterval sets how often unobserved entries past their retention
// window are collected. Zero disables the background sweep.
// Default: 1 minute.
func WithGCInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		o.gcInterval = d
	}
}

// WithDefaultStaleAfter sets the freshness window applied to queries that
// do not set their own. Zero means entries are stale immediately and every
// query revalidates in the background.
// Default: 0.
func WithDefaultStaleAfter(d time.Duration) Option {
	return func(o *clientOptions) {
		o.staleAfter = d
	}
}

// WithDefaultRetainFor sets how long entries with no subscribers are kept
// after the last one detaches.
// Default: 5 minutes.
func WithDefaultRetainFor(d time.Duration) Option {
	return func(o *clientOptions) {
		o.retainFor = d
	}
}

// WithClock overrides the time source. Useful for testing freshness and
// retention behavior without sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// QueryOption configures a single query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	staleAfter    time.Duration
	retainFor     time.Duration
	enabled       bool
	retries       int
	retryInterval time.Duration
}

func newQueryOptions(c *clientOptions, opts []QueryOption) *queryOptions {
	o := &queryOptions{
		staleAfter:    c.staleAfter,
		retainFor:     c.retainFor,
		enabled:       true,
		retries:       0,
		retryInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithStaleAfter sets the freshness window for this query's entry.
// While fresh, queries are served from cache with no fetch.
func WithStaleAfter(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.staleAfter = d
	}
}

// WithRetainFor sets the garbage-collection window for this query's entry
// after its last subscriber detaches.
func WithRetainFor(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.retainFor = d
	}
}

// WithEnabled toggles the query. A disabled query returns StatusIdle and
// never issues a fetch.
// Default: enabled.
func WithEnabled(enabled bool) QueryOption {
	return func(o *queryOptions) {
		o.enabled = enabled
	}
}

// WithRetries sets how many additional attempts a failed fetch gets before
// the error is surfaced.
// Default: 0 (no retry).
func WithRetries(n int) QueryOption {
	return func(o *queryOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithRetryInterval sets the initial wait between retry attempts; the wait
// doubles on each subsequent attempt.
// Default: 100ms.
func WithRetryInterval(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		if d > 0 {
			o.retryInterval = d
		}
	}
}

// MutationOption configures a single mutation.
type MutationOption func(*mutationOptions)

type mutationOptions struct {
	precondition func(input any) error
	optimistic   func(input any) []Patch
	affectedKeys func(input any) []Key
}

// WithPrecondition sets a guard that validates the input before the
// operation is dispatched. A non-nil error aborts the mutation with
// ErrValidation; no optimistic patch is applied and the operation is not
// invoked.
func WithPrecondition(fn func(input any) error) MutationOption {
	return func(o *mutationOptions) {
		o.precondition = fn
	}
}

// WithOptimisticUpdate sets the patch generator for optimistic local
// updates. Patches are applied to the cache before the operation runs and
// rolled back if it fails.
func WithOptimisticUpdate(fn func(input any) []Patch) MutationOption {
	return func(o *mutationOptions) {
		o.optimistic = fn
	}
}

// WithAffectedKeys declares which cache keys a mutation touches. On
// success they are invalidated so the next query refetches; on failure
// they are restored from the pre-mutation snapshot.
func WithAffectedKeys(fn func(input any) []Key) MutationOption {
	return func(o *mutationOptions) {
		o.affectedKeys = fn
	}
}
