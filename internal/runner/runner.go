// Package runner executes work over a slice with a fixed number of slots.
package runner

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run calls fn once per item with at most limit calls in flight. Items are
// admitted in order as slots free up; completion order is unspecified.
//
// stop is checked before each admission and again when a task starts. Once
// it is done no further items are admitted, and Run returns after the tasks
// already in flight finish. fn owns its own failures; Run reports nothing.
func Run[T any](stop context.Context, items []T, limit int, fn func(T)) {
	if len(items) == 0 || stop.Err() != nil {
		return
	}
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for _, item := range items {
		if stop.Err() != nil {
			break
		}
		// Blocks until a slot frees.
		g.Go(func() error {
			if stop.Err() != nil {
				return nil
			}
			fn(item)
			return nil
		})
	}

	_ = g.Wait()
}
