package refetch

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Persister stores one dehydrated cache state as an opaque byte blob.
// Load returns ErrNotFound when nothing has been saved yet.
type Persister interface {
	Save(ctx context.Context, state []byte) error
	Load(ctx context.Context) ([]byte, error)
}

const dehydrateVersion = 1

type dehydratedState struct {
	Version int               `json:"version"`
	Entries []dehydratedEntry `json:"entries"`
}

type dehydratedEntry struct {
	Key       json.RawMessage `json:"key"`
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Dehydrate serializes every successful entry and saves it through p.
// Entries in error or fetching state and entries whose data cannot be
// marshaled are skipped; the point of persistence is last-known-good
// values, not error states.
func (c *Client) Dehydrate(ctx context.Context, p Persister) error {
	if c.closed.Load() {
		return ErrClosed
	}

	now := c.now()
	state := dehydratedState{Version: dehydrateVersion}
	for _, key := range c.store.keys() {
		res, ok := c.store.view(key, now)
		if !ok || res.Status != StatusSuccess {
			continue
		}

		data, err := json.Marshal(res.Data)
		if err != nil {
			c.log.Debug("skipping unmarshalable entry", "key", key.String(), "error", err)
			continue
		}
		state.Entries = append(state.Entries, dehydratedEntry{
			Key:       json.RawMessage(key.String()),
			Data:      data,
			FetchedAt: res.FetchedAt,
		})
	}

	blob, err := json.Marshal(state)
	if err != nil {
		return errors.Join(ErrMarshal, err)
	}
	return p.Save(ctx, blob)
}

// Hydrate restores entries previously saved with Dehydrate. Restored data
// arrives as json.RawMessage and keeps its original fetchedAt, so
// freshness windows survive a restart; [Fetch] decodes raw entries into
// their typed form on first access. Entries that already hold live data
// are left untouched. A persister with no saved state is not an error.
func (c *Client) Hydrate(ctx context.Context, p Persister) error {
	if c.closed.Load() {
		return ErrClosed
	}

	blob, err := p.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	var state dehydratedState
	if err := json.Unmarshal(blob, &state); err != nil {
		return errors.Join(ErrUnmarshal, err)
	}

	for _, de := range state.Entries {
		var parts []any
		if err := json.Unmarshal(de.Key, &parts); err != nil {
			return errors.Join(ErrUnmarshal, err)
		}
		key := Key(parts)
		data := de.Data
		fetchedAt := de.FetchedAt

		c.commitAndNotify(key, func(e *entry) {
			if e.hasData {
				return
			}
			e.data = data
			e.hasData = true
			e.err = nil
			e.status = StatusSuccess
			e.fetchedAt = fetchedAt
			e.invalidated = false
		})
	}
	return nil
}
