package refetch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/refetch"
)

// drainUntil reads updates until cond matches or the timeout elapses.
func drainUntil(t *testing.T, updates <-chan refetch.Result, cond func(refetch.Result) bool) refetch.Result {
	t.Helper()

	deadline := time.After(time.Second)
	for {
		select {
		case res, ok := <-updates:
			require.True(t, ok, "updates channel closed before expected state")
			if cond(res) {
				return res
			}
		case <-deadline:
			t.Fatal("timed out waiting for subscription update")
		}
	}
}

func TestClient_Subscribe(t *testing.T) {
	t.Parallel()

	t.Run("delivers the current state on subscribe", func(t *testing.T) {
		t.Parallel()

		c := refetch.New()
		defer c.Close()

		key := refetch.K("events")
		c.Set(key, "seeded")

		sub := c.Subscribe(key)
		defer sub.Close()

		res := <-sub.Updates()
		require.Equal(t, "seeded", res.Data)
		require.Equal(t, refetch.StatusSuccess, res.Status)
	})

	t.Run("observes fetch results", func(t *testing.T) {
		t.Parallel()

		c := refetch.New()
		defer c.Close()

		key := refetch.K("events")
		sub := c.Subscribe(key)
		defer sub.Close()

		_, err := c.Query(context.Background(), key, func(ctx context.Context) (any, error) {
			return "fetched", nil
		})
		require.NoError(t, err)

		res := drainUntil(t, sub.Updates(), func(r refetch.Result) bool {
			return r.Status == refetch.StatusSuccess
		})
		require.Equal(t, "fetched", res.Data)
	})

	t.Run("observes optimistic patches and rollbacks", func(t *testing.T) {
		t.Parallel()

		c := refetch.New()
		defer c.Close()

		key := refetch.K("cart")
		c.Set(key, 2)

		sub := c.Subscribe(key)
		defer sub.Close()

		_, err := c.Mutate(context.Background(), nil,
			func(ctx context.Context, input any) (any, error) {
				// Wait for the patched state to reach the subscriber before
				// failing, so both transitions are observable.
				drainUntil(t, sub.Updates(), func(r refetch.Result) bool {
					return r.Data == 3
				})
				return nil, context.DeadlineExceeded
			},
			refetch.WithOptimisticUpdate(func(input any) []refetch.Patch {
				return []refetch.Patch{{
					Key:   key,
					Apply: func(prev any) any { return prev.(int) + 1 },
				}}
			}),
		)
		require.Error(t, err)

		res := drainUntil(t, sub.Updates(), func(r refetch.Result) bool {
			return r.Data == 2
		})
		require.Equal(t, refetch.StatusSuccess, res.Status, "rollback restores the prior state")
	})

	t.Run("multiple subscribers share one entry", func(t *testing.T) {
		t.Parallel()

		c := refetch.New()
		defer c.Close()

		key := refetch.K("events")
		a := c.Subscribe(key)
		defer a.Close()
		b := c.Subscribe(key)
		defer b.Close()

		c.Set(key, "update")

		for _, sub := range []*refetch.Subscription{a, b} {
			res := drainUntil(t, sub.Updates(), func(r refetch.Result) bool {
				return r.Data == "update"
			})
			require.Equal(t, "update", res.Data)
		}
	})

	t.Run("close is idempotent and closes the channel", func(t *testing.T) {
		t.Parallel()

		c := refetch.New()
		defer c.Close()

		sub := c.Subscribe(refetch.K("events"))
		sub.Close()
		sub.Close()

		_, ok := <-sub.Updates()
		require.False(t, ok)
	})

	t.Run("detaching the last subscriber cancels the in-flight fetch", func(t *testing.T) {
		t.Parallel()

		c := refetch.New()
		defer c.Close()

		key := refetch.K("events")
		sub := c.Subscribe(key)

		canceled := make(chan struct{})
		go func() {
			_, _ = c.Query(context.Background(), key, func(ctx context.Context) (any, error) {
				<-ctx.Done()
				close(canceled)
				return nil, ctx.Err()
			})
		}()

		// Wait for the fetch to be in flight, then detach.
		require.Eventually(t, func() bool {
			res, ok := c.Peek(key)
			return ok && res.Status == refetch.StatusFetching
		}, time.Second, time.Millisecond)
		sub.Close()

		select {
		case <-canceled:
		case <-time.After(time.Second):
			t.Fatal("fetch context was not canceled after last detach")
		}
	})
}

func TestClient_GarbageCollection(t *testing.T) {
	t.Parallel()

	t.Run("unobserved entry is removed after its retention window", func(t *testing.T) {
		t.Parallel()

		c := refetch.New(refetch.WithGCInterval(5 * time.Millisecond))
		defer c.Close()

		key := refetch.K("events")
		_, err := c.Query(context.Background(), key, func(ctx context.Context) (any, error) {
			return "value", nil
		}, refetch.WithRetainFor(150*time.Millisecond))
		require.NoError(t, err)

		// Well inside the retention window the entry must survive.
		time.Sleep(50 * time.Millisecond)
		_, ok := c.Peek(key)
		require.True(t, ok, "entry removed before its retention window elapsed")

		require.Eventually(t, func() bool {
			_, ok := c.Peek(key)
			return !ok
		}, 2*time.Second, 10*time.Millisecond, "entry should be collected after retention")
	})

	t.Run("subscribed entry is never removed", func(t *testing.T) {
		t.Parallel()

		c := refetch.New(refetch.WithGCInterval(5 * time.Millisecond))
		defer c.Close()

		key := refetch.K("events")
		sub := c.Subscribe(key)
		defer sub.Close()

		_, err := c.Query(context.Background(), key, func(ctx context.Context) (any, error) {
			return "value", nil
		}, refetch.WithRetainFor(10*time.Millisecond))
		require.NoError(t, err)

		time.Sleep(100 * time.Millisecond)
		_, ok := c.Peek(key)
		require.True(t, ok, "observed entries are exempt from collection")
	})

	t.Run("retention countdown starts at the last detach", func(t *testing.T) {
		t.Parallel()

		c := refetch.New(refetch.WithGCInterval(5 * time.Millisecond))
		defer c.Close()

		key := refetch.K("events")
		sub := c.Subscribe(key)

		_, err := c.Query(context.Background(), key, func(ctx context.Context) (any, error) {
			return "value", nil
		}, refetch.WithRetainFor(100*time.Millisecond))
		require.NoError(t, err)

		// Hold the subscription beyond the retention window, then detach.
		time.Sleep(150 * time.Millisecond)
		sub.Close()

		time.Sleep(30 * time.Millisecond)
		_, ok := c.Peek(key)
		require.True(t, ok, "countdown restarts from the detach, not from the fetch")

		require.Eventually(t, func() bool {
			_, ok := c.Peek(key)
			return !ok
		}, 2*time.Second, 10*time.Millisecond)
	})
}
