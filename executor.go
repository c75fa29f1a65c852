package refetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FetchFunc produces the data for a cache entry. The context carries the
// cancellation signal; implementations should honor it but are not
// required to stop instantly.
type FetchFunc func(ctx context.Context) (any, error)

// execute runs fn with panic recovery and up to retries additional
// attempts, doubling the wait between attempts starting from interval.
// A context canceled mid-flight surfaces as ErrAborted and stops retrying.
func execute(ctx context.Context, fn FetchFunc, retries int, interval time.Duration) (any, error) {
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := interval * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, errors.Join(ErrAborted, context.Cause(ctx))
			case <-time.After(backoff):
			}
		}

		data, err := call(ctx, fn)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, errors.Join(ErrAborted, err)
		}
		lastErr = err
	}
	return nil, lastErr
}

// call invokes fn, converting a panic into an error so no failure escapes
// the cache core.
func call(ctx context.Context, fn FetchFunc) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refetch: fetch panicked: %v", r)
		}
	}()
	return fn(ctx)
}
