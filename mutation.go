package refetch

import (
	"context"
	"errors"
	"fmt"
)

// MutateFunc performs the write operation of a mutation and returns its
// result. Mutations are not cancellable once issued; rollback is the only
// undo mechanism.
type MutateFunc func(ctx context.Context, input any) (any, error)

// Patch is one optimistic local update: Apply receives the currently
// cached value for Key (nil when absent) and returns the value the cache
// should show until the mutation settles.
type Patch struct {
	Key   Key
	Apply func(prev any) any
}

// Mutate runs op for input.
//
// With WithOptimisticUpdate, the generated patches are applied to the
// cache before op runs, so consumers see the change ahead of
// confirmation. On failure every touched entry is restored to the exact
// state captured before the first patch, then the error is returned. On
// success all keys from WithAffectedKeys are invalidated so the next
// query for them refetches.
func (c *Client) Mutate(ctx context.Context, input any, op MutateFunc, opts ...MutationOption) (any, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	mo := &mutationOptions{}
	for _, opt := range opts {
		opt(mo)
	}

	if mo.precondition != nil {
		if err := mo.precondition(input); err != nil {
			return nil, errors.Join(ErrValidation, err)
		}
	}

	var affected []Key
	if mo.affectedKeys != nil {
		affected = mo.affectedKeys(input)
	}

	var snaps []entrySnapshot
	if mo.optimistic != nil {
		patches := mo.optimistic(input)
		snaps = c.store.capture(snapshotKeys(affected, patches))
		for _, p := range patches {
			c.applyPatch(p)
		}
	}

	result, err := runMutation(ctx, op, input)
	if err != nil {
		if snaps != nil {
			c.rollback(snaps)
		}
		return nil, err
	}

	c.Invalidate(affected...)
	return result, nil
}

func (c *Client) applyPatch(p Patch) {
	c.commitAndNotify(p.Key, func(e *entry) {
		var prev any
		if e.hasData {
			prev = e.data
		}
		e.data = p.Apply(prev)
		e.hasData = true
		e.err = nil
		e.status = StatusSuccess
	})
}

// rollback restores the captured snapshots and re-notifies subscribers of
// the restored state, guaranteeing the observable cache equals the state
// before the optimistic patch.
func (c *Client) rollback(snaps []entrySnapshot) {
	for _, res := range c.store.restore(snaps, c.now()) {
		c.subs.notify(res.Key, res)
	}
}

// ReducePatch builds a Patch that applies a pure reducer to the typed
// state cached under key. The action is a closed, strongly-typed value
// rather than a loose tag-and-payload object; one reducer per domain
// slice keeps every local write going through the same pure function.
//
//	refetch.ReducePatch(refetch.K("cart"), AddItem{SKU: "x"}, reduceCart)
//
// When the cached value is absent or of a different type, the reducer
// receives the zero value of S.
func ReducePatch[S, A any](key Key, action A, reduce func(state S, action A) S) Patch {
	return Patch{
		Key: key,
		Apply: func(prev any) any {
			var state S
			if s, ok := prev.(S); ok {
				state = s
			}
			return reduce(state, action)
		},
	}
}

// runMutation invokes op with panic recovery so a panicking operation
// still rolls back cleanly instead of crashing the host.
func runMutation(ctx context.Context, op MutateFunc, input any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refetch: mutation panicked: %v", r)
		}
	}()
	return op(ctx, input)
}

// snapshotKeys unions affected keys and patch targets so rollback covers
// every entry the mutation may have touched.
func snapshotKeys(affected []Key, patches []Patch) []Key {
	keys := make([]Key, 0, len(affected)+len(patches))
	keys = append(keys, affected...)
	for _, p := range patches {
		keys = append(keys, p.Key)
	}
	return keys
}
