// Package concurrency runs independent per-item work on a bounded number of
// goroutines while keeping results in input order.
package concurrency

import (
	"context"
	"fmt"
	"sync"
)

type ParallelOptions struct {
	// MaxWorkers bounds the goroutines used. Values <= 0 mean the default.
	MaxWorkers int
}

func DefaultOptions() ParallelOptions {
	return ParallelOptions{MaxWorkers: 4}
}

// ItemError ties an error to the index of the item that produced it.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string { return fmt.Sprintf("item %d: %v", e.Index, e.Err) }

func (e *ItemError) Unwrap() error { return e.Err }

// ProcessParallel calls itemFunc for every item and returns the results in
// the order of items. Errors come back as *ItemError sorted by index. Items
// not started because ctx was done report ctx.Err() and a zero result.
func ProcessParallel[T any, R any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) (R, error),
) ([]R, []error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = DefaultOptions().MaxWorkers
	}
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]R, len(items))
	itemErrs := make([]error, len(items))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					itemErrs[i] = err
					continue
				}
				results[i], itemErrs[i] = itemFunc(ctx, i, items[i])
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var errs []error
	for i, err := range itemErrs {
		if err != nil {
			errs = append(errs, &ItemError{Index: i, Err: err})
		}
	}
	return results, errs
}
