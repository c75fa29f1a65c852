package refetch

import (
	"context"
	"time"
)

// Status describes the fetch lifecycle of a cache entry.
type Status string

const (
	// StatusIdle means no fetch has been issued, or the query is disabled.
	StatusIdle Status = "idle"
	// StatusFetching means a fetch for the entry is in flight.
	StatusFetching Status = "fetching"
	// StatusSuccess means the last fetch completed and data is present.
	StatusSuccess Status = "success"
	// StatusError means the last fetch failed; stale data from a prior
	// success may still be present.
	StatusError Status = "error"
)

// entry is the internal cache record for one key.
// All access goes through the store mutex.
type entry struct {
	key         Key
	data        any
	hasData     bool
	err         error
	fetchedAt   time.Time
	staleAfter  time.Duration
	retainFor   time.Duration
	status      Status
	invalidated bool

	// cancel aborts the in-flight fetch; nil when none is running.
	cancel context.CancelFunc
	// detachedAt is when the last subscriber went away; zero while observed.
	detachedAt time.Time
}

// fresh reports whether the entry can be served without any fetch.
func (e *entry) fresh(now time.Time) bool {
	if !e.hasData || e.invalidated || e.status == StatusError {
		return false
	}
	if e.fetchedAt.IsZero() || e.staleAfter <= 0 {
		return false
	}
	return now.Sub(e.fetchedAt) < e.staleAfter
}

// result builds the externally visible snapshot of the entry.
func (e *entry) result(now time.Time) Result {
	return Result{
		Key:       e.key,
		Data:      e.data,
		Err:       e.err,
		Status:    e.status,
		FetchedAt: e.fetchedAt,
		Stale:     e.hasData && !e.fresh(now),
	}
}

// Result is a point-in-time snapshot of a cache entry as seen by consumers.
//
// Data holds the last successfully fetched value and is retained across
// later failures (stale-while-error). Err holds the last fetch error, nil
// after a success. Stale reports whether the data is outside its freshness
// window and a query would revalidate it.
type Result struct {
	Key       Key
	Data      any
	Err       error
	Status    Status
	FetchedAt time.Time
	Stale     bool
}
