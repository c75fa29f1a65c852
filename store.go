package refetch

import (
	"sync"
	"time"
)

// store is the keyed in-memory map of cache entries. It is the single
// serialization point for entry state: every transition happens under its
// mutex, and callers dispatch notifications only after a commit returns,
// so observers never see torn state.
//
// The store is a pure data structure. It performs no I/O and owns no
// goroutines; fetching, notification, and garbage collection are driven
// from the outside.
type store struct {
	mu      sync.Mutex
	entries map[string]*entry

	// defaults applied to lazily created entries
	staleAfter time.Duration
	retainFor  time.Duration
}

func newStore(staleAfter, retainFor time.Duration) *store {
	return &store{
		entries:    make(map[string]*entry),
		staleAfter: staleAfter,
		retainFor:  retainFor,
	}
}

// commit applies mutate to the entry for key, creating it first if absent,
// and returns the resulting snapshot. Entries are born idle and unobserved;
// subscribing clears detachedAt.
func (s *store) commit(key Key, now time.Time, mutate func(*entry)) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	e, ok := s.entries[k]
	if !ok {
		e = &entry{
			key:        key,
			status:     StatusIdle,
			staleAfter: s.staleAfter,
			retainFor:  s.retainFor,
			detachedAt: now,
		}
		s.entries[k] = e
	}

	mutate(e)
	return e.result(now)
}

// view returns the snapshot for key without creating an entry.
func (s *store) view(key Key, now time.Time) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return Result{}, false
	}
	return e.result(now), true
}

func (s *store) has(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key.String()]
	return ok
}

func (s *store) delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key.String())
}

func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// keys returns the keys of all current entries.
func (s *store) keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Key, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.key)
	}
	return out
}

// entrySnapshot captures the observable fields of one entry (or its
// absence) so a failed optimistic mutation can restore the exact prior
// state.
type entrySnapshot struct {
	key         Key
	existed     bool
	data        any
	hasData     bool
	err         error
	fetchedAt   time.Time
	status      Status
	invalidated bool
}

// capture snapshots the entries for keys. Absent entries are recorded as
// such and restore to absent.
func (s *store) capture(keys []Key) []entrySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := make([]entrySnapshot, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		k := key.String()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		snap := entrySnapshot{key: key}
		if e, ok := s.entries[k]; ok {
			snap.existed = true
			snap.data = e.data
			snap.hasData = e.hasData
			snap.err = e.err
			snap.fetchedAt = e.fetchedAt
			snap.status = e.status
			snap.invalidated = e.invalidated
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// restore rewinds entries to their captured state and returns the
// snapshots of entries that still exist, for notification. Entries that
// did not exist at capture time are removed silently.
func (s *store) restore(snaps []entrySnapshot, now time.Time) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]Result, 0, len(snaps))
	for _, snap := range snaps {
		k := snap.key.String()
		if !snap.existed {
			delete(s.entries, k)
			continue
		}
		e, ok := s.entries[k]
		if !ok {
			// Recreate: the entry was swept between capture and restore.
			e = &entry{
				key:        snap.key,
				staleAfter: s.staleAfter,
				retainFor:  s.retainFor,
				detachedAt: now,
			}
			s.entries[k] = e
		}
		e.data = snap.data
		e.hasData = snap.hasData
		e.err = snap.err
		e.fetchedAt = snap.fetchedAt
		e.status = snap.status
		e.invalidated = snap.invalidated
		results = append(results, e.result(now))
	}
	return results
}

// sweep removes entries that have been unobserved longer than their
// retention window. Removal is silent: consumers never see it as a state
// transition. Entries with a fetch in flight are skipped until it settles.
func (s *store) sweep(now time.Time, observed func(string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if e.status == StatusFetching {
			continue
		}
		if e.detachedAt.IsZero() || observed(k) {
			continue
		}
		if now.Sub(e.detachedAt) >= e.retainFor {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// cancelInFlight invokes the cancel func of every fetching entry.
// Used on client shutdown; cancellation is advisory.
func (s *store) cancelInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
}
