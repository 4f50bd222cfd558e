package wave

import (
	"context"
	"sync"
)

// Result pairs an item with its execution outcome.
type Result struct {
	Item Item
	Err  error
}

// Run executes one wave with at most slots concurrent items, invoking fn for
// each. Completion order within the wave is unspecified; results are
// returned in input order. All shared-state mutation belongs in the caller's
// consumption of the returned results, which happens on a single goroutine —
// fn must not touch shared session counters itself.
//
// Cancellation is cooperative: a done context stops unstarted items, but
// items already running are allowed to finish so no plan is left half
// applied.
func Run(ctx context.Context, items []Item, slots int, fn func(context.Context, Item) error) []Result {
	results := make([]Result, len(items))
	sem := NewSemaphore(slots)
	var wg sync.WaitGroup

	for i, item := range items {
		if ctx.Err() != nil {
			results[i] = Result{Item: item, Err: ctx.Err()}
			continue
		}
		if err := sem.Acquire(ctx); err != nil {
			results[i] = Result{Item: item, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()
			defer sem.Release()
			// Deliberately not ctx-aborted mid-item: finish, don't kill.
			results[i] = Result{Item: item, Err: fn(ctx, item)}
		}(i, item)
	}

	wg.Wait()
	return results
}
