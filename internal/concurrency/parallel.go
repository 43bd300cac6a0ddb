package concurrency

import (
	"context"
	"sync"
)

// ParallelOptions configura el comportamiento del procesamiento paralelo
type ParallelOptions struct {
	// MaxWorkers es el número máximo de trabajadores en paralelo
	MaxWorkers int
}

// DefaultOptions devuelve opciones predeterminadas para procesamiento paralelo
func DefaultOptions() ParallelOptions {
	return ParallelOptions{
		MaxWorkers: 8,
	}
}

// ProcessParallel runs itemFunc over items with a bounded worker pool.
// Results come back in input order; errors are collected, never short-circuit.
// Workers stop picking up new items once ctx is cancelled.
func ProcessParallel[T any, R any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) (R, error),
) ([]R, []error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultOptions().MaxWorkers
	}
	if maxWorkers > len(items) {
		maxWorkers = len(items)
	}

	type outcome struct {
		index  int
		result R
		err    error
	}

	jobs := make(chan int, len(items))
	results := make(chan outcome, len(items))

	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jobIndex := range jobs {
				select {
				case <-ctx.Done():
					results <- outcome{index: jobIndex, err: ctx.Err()}
				default:
					result, err := itemFunc(ctx, jobIndex, items[jobIndex])
					results <- outcome{index: jobIndex, result: result, err: err}
				}
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	resultList := make([]R, len(items))
	var errs []error
	for res := range results {
		if res.err != nil {
			errs = append(errs, res.err)
		}
		resultList[res.index] = res.result
	}

	return resultList, errs
}
