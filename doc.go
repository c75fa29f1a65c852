// Package refetch is a client-side query cache with request deduplication,
// stale-while-revalidate refresh, optimistic mutations with rollback, and
// subscription-based change notification.
//
// The cache never owns transport: callers inject fetch and mutation
// functions, and refetch decides when to call them, deduplicates
// concurrent calls, and keeps the cached state and its observers
// consistent. Rendering, routing, and persistence schemas are the
// caller's business.
//
// # Quick Start
//
// Create a client, query with a key and a fetch function, and close the
// client on shutdown:
//
//	c := refetch.New(
//	    refetch.WithDefaultStaleAfter(30 * time.Second),
//	)
//	defer c.Close()
//
//	events, err := refetch.Fetch(ctx, c, refetch.K("events"),
//	    func(ctx context.Context) ([]Event, error) {
//	        return api.ListEvents(ctx)
//	    })
//
// Repeated queries inside the freshness window are served from cache with
// no fetch. After the window elapses, queries return the cached value
// immediately and revalidate in the background. Concurrent queries for
// one key share a single outstanding fetch.
//
// # Keys
//
// A [Key] is an ordered list of JSON-serializable parts. Keys are equal
// when their canonical serializations match:
//
//	refetch.K("events")                                  // the collection
//	refetch.K("events", 42)                              // one event
//	refetch.K("events", map[string]string{"search": "x"})
//
// # Mutations
//
// [Client.Mutate] runs a write operation with optional optimistic cache
// patches. On failure the cache is restored to the exact pre-patch state;
// on success the declared affected keys are invalidated so the next query
// refetches them:
//
//	_, err := c.Mutate(ctx, item, saveItem,
//	    refetch.WithOptimisticUpdate(func(input any) []refetch.Patch {
//	        return []refetch.Patch{{
//	            Key:   refetch.K("items"),
//	            Apply: func(prev any) any { return append(prev.([]Item), input.(Item)) },
//	        }}
//	    }),
//	    refetch.WithAffectedKeys(func(any) []refetch.Key {
//	        return []refetch.Key{refetch.K("items")}
//	    }),
//	)
//
// # Subscriptions
//
// [Client.Subscribe] returns an explicit handle delivering entry
// snapshots on every state change. The consumer owns the teardown:
//
//	sub := c.Subscribe(refetch.K("events"))
//	defer sub.Close()
//
//	for res := range sub.Updates() {
//	    render(res)
//	}
//
// Delivery is conflated: a slow consumer sees the latest state, never a
// backlog. Entries with no subscribers are garbage-collected after their
// retention window; collection is silent.
//
// # Persistence
//
// [Client.Dehydrate] and [Client.Hydrate] save and restore last-known-good
// entries through a [Persister], keeping original fetch times so freshness
// survives restarts. [NewRedisPersister] provides a Redis-backed
// implementation.
//
// # Error Handling
//
// Fetch errors land in the entry's error state and are surfaced to
// callers and subscribers; previously cached data is retained alongside
// the error. Sentinel errors:
//
//   - [ErrNotFound] — no entry, or no persisted state
//   - [ErrClosed] — operation on a closed client
//   - [ErrValidation] — mutation precondition rejected the input
//   - [ErrAborted] — cancellation observed mid-flight
//   - [ErrMarshal], [ErrUnmarshal] — persistence serialization failures
//
// Use [errors.Is] to check.
package refetch
