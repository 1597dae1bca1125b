package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.MaxWorkers != 4 {
		t.Errorf("Expected MaxWorkers to be 4, got %d", opts.MaxWorkers)
	}
}

func TestProcessParallel(t *testing.T) {
	ctx := context.Background()

	// Test with empty slice
	results, errs := ProcessParallel(ctx, []int{}, DefaultOptions(), func(ctx context.Context, index int, item int) (string, error) {
		return "", nil
	})
	if len(results) != 0 {
		t.Errorf("Expected empty results for empty input, got %d items", len(results))
	}
	if errs != nil {
		t.Errorf("Expected nil errors for empty input, got %v", errs)
	}

	input := []int{1, 2, 3, 4, 5}
	results, errs = ProcessParallel(ctx, input, DefaultOptions(), func(ctx context.Context, index int, item int) (string, error) {
		return string(rune('a' + item - 1)), nil
	})
	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %d", len(errs))
	}
	expected := []string{"a", "b", "c", "d", "e"}
	for i, res := range results {
		if res != expected[i] {
			t.Errorf("Expected result at index %d to be %s, got %s", i, expected[i], res)
		}
	}

	// Test with errors
	errEven := errors.New("even number error")
	_, errs = ProcessParallel(ctx, input, ParallelOptions{MaxWorkers: 2}, func(ctx context.Context, index int, item int) (string, error) {
		if item%2 == 0 {
			return "", errEven
		}
		return "ok", nil
	})
	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors, got %d", len(errs))
	}
	var ie *ItemError
	if !errors.As(errs[0], &ie) || ie.Index != 1 {
		t.Errorf("Expected first error for index 1, got %v", errs[0])
	}
	if !errors.Is(errs[1], errEven) {
		t.Errorf("Expected wrapped even error, got %v", errs[1])
	}

	// Test with invalid MaxWorkers
	results, errs = ProcessParallel(ctx, input, ParallelOptions{MaxWorkers: -1}, func(ctx context.Context, index int, item int) (string, error) {
		return "x", nil
	})
	if len(results) != len(input) || len(errs) != 0 {
		t.Errorf("Expected %d results and no errors, got %d/%d", len(input), len(results), len(errs))
	}
}

func TestProcessParallelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	results, errs := ProcessParallel(ctx, []int{1, 2, 3}, DefaultOptions(), func(ctx context.Context, index int, item int) (int, error) {
		calls.Add(1)
		return item, nil
	})
	if calls.Load() != 0 {
		t.Errorf("Expected no calls with a canceled context, got %d", calls.Load())
	}
	if len(results) != 3 {
		t.Errorf("Expected results slice of 3, got %d", len(results))
	}
	if len(errs) != 3 || !errors.Is(errs[0], context.Canceled) {
		t.Errorf("Expected 3 canceled errors, got %v", errs)
	}
}

// Results must follow input order, not completion order.
func TestProcessParallelOrder(t *testing.T) {
	ctx := context.Background()
	input := []int{5, 3, 1, 4, 2}

	results, errs := ProcessParallel(ctx, input, ParallelOptions{MaxWorkers: 5}, func(ctx context.Context, index int, item int) (int, error) {
		time.Sleep(time.Duration(item) * 10 * time.Millisecond)
		return item, nil
	})

	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %d", len(errs))
	}
	for i, res := range results {
		if res != input[i] {
			t.Errorf("Expected result at index %d to be %d, got %d", i, input[i], res)
		}
	}
}
