package refetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Query resolves the cached state for key, fetching with fetch when
// needed:
//
//   - A fresh entry is returned as is; no fetch is issued.
//   - A stale entry is returned immediately and revalidated in the
//     background (stale-while-revalidate).
//   - An absent entry blocks on the fetch and returns its outcome.
//
// Concurrent queries for the same key share a single outstanding fetch.
// A failed fetch surfaces its error while retaining any previously cached
// data in the returned Result for stale-while-error display.
//
// Canceling ctx abandons waiting for the shared fetch with ErrAborted;
// the fetch itself keeps running so the cache still settles for other
// observers.
func (c *Client) Query(ctx context.Context, key Key, fetch FetchFunc, opts ...QueryOption) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrClosed
	}

	qo := newQueryOptions(c.opts, opts)
	if !qo.enabled {
		return Result{Key: key, Status: StatusIdle}, nil
	}

	var (
		fresh   bool
		hasData bool
	)
	now := c.now()
	cur := c.store.commit(key, now, func(e *entry) {
		e.staleAfter = qo.staleAfter
		e.retainFor = qo.retainFor
		fresh = e.fresh(now)
		hasData = e.hasData
	})

	if fresh {
		return cur, nil
	}

	if hasData {
		c.revalidate(key, fetch, qo)
		return cur, nil
	}

	return c.await(ctx, key, fetch, qo)
}

// Fetch is the typed convenience wrapper around [Client.Query]. It returns
// the cached or freshly fetched value as T. Values rehydrated from a
// Persister arrive as raw JSON and are decoded into T on first access.
func Fetch[T any](ctx context.Context, c *Client, key Key, fn func(ctx context.Context) (T, error), opts ...QueryOption) (T, error) {
	var zero T

	res, err := c.Query(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, opts...)
	if err != nil {
		return zero, err
	}
	if res.Status == StatusIdle || res.Data == nil {
		return zero, nil
	}

	if v, ok := res.Data.(T); ok {
		return v, nil
	}
	if raw, ok := res.Data.(json.RawMessage); ok {
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return zero, errors.Join(ErrUnmarshal, err)
		}
		// Store the decoded value so later reads skip the decode.
		c.store.commit(key, c.now(), func(e *entry) {
			if _, isRaw := e.data.(json.RawMessage); isRaw && e.hasData {
				e.data = out
			}
		})
		return out, nil
	}
	return zero, fmt.Errorf("refetch: cached value for %s is %T, want %T", key, res.Data, zero)
}

// await blocks on the (possibly shared) fetch for key and returns the
// settled state.
func (c *Client) await(ctx context.Context, key Key, fetch FetchFunc, qo *queryOptions) (Result, error) {
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.runFetch(key, fetch, qo)
	})

	select {
	case <-ctx.Done():
		return Result{Key: key, Status: StatusFetching}, errors.Join(ErrAborted, context.Cause(ctx))
	case r := <-ch:
		res, ok := c.store.view(key, c.now())
		if !ok {
			// Entry was swept while we waited; fall back to the raw outcome.
			res = Result{Key: key, Data: r.Val, Err: r.Err}
			if r.Err != nil {
				res.Status = StatusError
			} else {
				res.Status = StatusSuccess
			}
		}
		return res, r.Err
	}
}

// revalidate kicks off a background refresh for a stale entry, attaching
// to the in-flight fetch if one exists so no duplicate request is issued.
func (c *Client) revalidate(key Key, fetch FetchFunc, qo *queryOptions) {
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.runFetch(key, fetch, qo)
	})

	go func() {
		select {
		case <-c.done:
		case r := <-ch:
			if r.Err != nil {
				c.log.Debug("background revalidation failed", "key", key.String(), "error", r.Err)
			}
		}
	}()
}

// runFetch performs the single shared fetch for key and applies the
// outcome to the store. It is only ever entered once per key at a time
// (enforced by the singleflight group), which also gives per-key
// completion ordering for free.
//
// The fetch runs on its own context so a caller that stops waiting does
// not abort it for everyone else; the entry's cancel func aborts it when
// the last subscriber detaches or the client closes.
func (c *Client) runFetch(key Key, fetch FetchFunc, qo *queryOptions) (any, error) {
	fctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.commitAndNotify(key, func(e *entry) {
		e.status = StatusFetching
		e.cancel = cancel
	})

	data, err := execute(fctx, fetch, qo.retries, qo.retryInterval)
	if err != nil {
		c.commitAndNotify(key, func(e *entry) {
			// Prior data stays in place for stale-while-error display.
			e.status = StatusError
			e.err = err
			e.cancel = nil
		})
		return nil, err
	}

	now := c.now()
	c.commitAndNotify(key, func(e *entry) {
		e.data = data
		e.hasData = true
		e.err = nil
		e.status = StatusSuccess
		e.fetchedAt = now
		e.invalidated = false
		e.cancel = nil
	})
	return data, nil
}
