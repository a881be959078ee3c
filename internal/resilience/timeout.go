package resilience

import (
	"context"
	"time"
)

// Abandon runs fn and waits at most d for it. On timeout the call is left
// running on a context detached from ctx's cancellation and its eventual
// result is dropped; callers get a *TimeoutError. A non-positive d waits
// for fn without a deadline.
//
// Cancelling ctx also abandons the call and returns ctx.Err().
func Abandon[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	type result struct {
		val T
		err error
	}
	// Buffered so the abandoned goroutine can always deliver and exit.
	ch := make(chan result, 1)
	detached := context.WithoutCancel(ctx)
	go func() {
		val, err := fn(detached)
		ch <- result{val: val, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-ch:
		return r.val, r.err
	case <-timer.C:
		return zero, &TimeoutError{After: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
