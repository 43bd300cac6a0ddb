package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.MaxWorkers != 8 {
		t.Errorf("Expected MaxWorkers to be 8, got %d", opts.MaxWorkers)
	}
}

func TestProcessParallelEmptyInput(t *testing.T) {
	results, errs := ProcessParallel(context.Background(), []int{}, DefaultOptions(), func(ctx context.Context, index int, item int) (string, error) {
		return "", nil
	})
	if len(results) != 0 {
		t.Errorf("Expected empty results for empty input, got %d items", len(results))
	}
	if errs != nil {
		t.Errorf("Expected nil errors for empty input, got %v", errs)
	}
}

func TestProcessParallelPreservesOrder(t *testing.T) {
	input := []int{1, 2, 3, 4, 5}
	results, errs := ProcessParallel(context.Background(), input, ParallelOptions{MaxWorkers: 2}, func(ctx context.Context, index int, item int) (string, error) {
		return string(rune('a' + item - 1)), nil
	})
	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}
	expected := []string{"a", "b", "c", "d", "e"}
	for i, res := range results {
		if res != expected[i] {
			t.Errorf("Expected result at index %d to be %s, got %s", i, expected[i], res)
		}
	}
}

func TestProcessParallelCollectsErrors(t *testing.T) {
	input := []int{1, 2, 3, 4, 5}
	var calls int32
	_, errs := ProcessParallel(context.Background(), input, DefaultOptions(), func(ctx context.Context, index int, item int) (string, error) {
		atomic.AddInt32(&calls, 1)
		if item%2 == 0 {
			return "", errors.New("even number error")
		}
		return "ok", nil
	})
	if len(errs) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errs))
	}
	if calls != int32(len(input)) {
		t.Errorf("Errors must not short-circuit: expected %d calls, got %d", len(input), calls)
	}
}

func TestProcessParallelInvalidWorkers(t *testing.T) {
	input := []int{10, 20, 30}
	results, errs := ProcessParallel(context.Background(), input, ParallelOptions{MaxWorkers: -1}, func(ctx context.Context, index int, item int) (int, error) {
		return item * 2, nil
	})
	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}
	for i, res := range results {
		if res != input[i]*2 {
			t.Errorf("Expected result at index %d to be %d, got %d", i, input[i]*2, res)
		}
	}
}

func TestProcessParallelCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel before starting

	input := []int{1, 2, 3, 4, 5}
	_, errs := ProcessParallel(ctx, input, DefaultOptions(), func(ctx context.Context, index int, item int) (string, error) {
		return "should not run", nil
	})
	if len(errs) == 0 {
		t.Error("Expected cancellation errors, got none")
	}
	for _, err := range errs {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	}
}
