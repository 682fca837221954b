package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunPreservesOrder(t *testing.T) {
	items := []int{10, 20, 30, 40, 50}
	results, err := Run(context.Background(), items, 3,
		func(ctx context.Context, index int, item int) (string, int64, error) {
			// Finish out of order
			time.Sleep(time.Duration(50-item) * time.Millisecond)
			return strconv.Itoa(item), int64(item), nil
		}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, item := range items {
		if results[i] != strconv.Itoa(item) {
			t.Errorf("results[%d] = %q, want %q", i, results[i], strconv.Itoa(item))
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	const limit = 2
	var current, peak atomic.Int32

	items := make([]int, 20)
	_, err := Run(context.Background(), items, limit,
		func(ctx context.Context, index int, item int) (struct{}, int64, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return struct{}{}, 0, nil
		}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := peak.Load(); got > limit {
		t.Errorf("observed %d concurrent units, limit is %d", got, limit)
	}
}

func TestRunProgressMonotone(t *testing.T) {
	var mu sync.Mutex
	var snapshots []Progress

	items := make([]int, 10)
	_, err := Run(context.Background(), items, 4,
		func(ctx context.Context, index int, item int) (int, int64, error) {
			return index, 7, nil
		},
		func(p Progress) {
			mu.Lock()
			snapshots = append(snapshots, p)
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(snapshots) != len(items) {
		t.Fatalf("expected %d progress reports, got %d", len(items), len(snapshots))
	}
	for i, p := range snapshots {
		if p.Completed != i+1 {
			t.Errorf("snapshot %d completed = %d, want %d", i, p.Completed, i+1)
		}
		if p.Tokens != int64(7*(i+1)) {
			t.Errorf("snapshot %d tokens = %d, want %d", i, p.Tokens, 7*(i+1))
		}
		if p.Total != len(items) {
			t.Errorf("snapshot %d total = %d", i, p.Total)
		}
	}
}

func TestRunFastFail(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Int32

	items := make([]int, 8)
	start := time.Now()
	results, err := Run(context.Background(), items, 2,
		func(ctx context.Context, index int, item int) (string, int64, error) {
			switch index {
			case 0:
				return "done", 1, nil
			case 1:
				return "", 0, fmt.Errorf("wrapping: %w", boom)
			default:
				select {
				case <-ctx.Done():
					cancelled.Add(1)
					return "", 0, ctx.Err()
				case <-time.After(2 * time.Second):
					return "slow", 0, nil
				}
			}
		}, nil)

	if !errors.Is(err, boom) {
		t.Fatalf("aggregate error should wrap the first failure, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fast-fail took %v; siblings were not cancelled", elapsed)
	}
	// Completed unit's result is kept, not discarded
	if results[0] != "done" {
		t.Errorf("completed result discarded: %q", results[0])
	}
}

func TestRunCountsTokensFromFailedUnits(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	var last Progress

	items := []int{0, 1}
	_, err := Run(context.Background(), items, 1,
		func(ctx context.Context, index int, item int) (struct{}, int64, error) {
			if index == 0 {
				return struct{}{}, 5, nil
			}
			// A failing unit still spent tokens on its attempts
			return struct{}{}, 11, boom
		},
		func(p Progress) {
			mu.Lock()
			last = p
			mu.Unlock()
		})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
	if last.Tokens != 16 {
		t.Errorf("tokens = %d, want 16 (failed unit's spend included)", last.Tokens)
	}
	if last.Completed != 1 {
		t.Errorf("completed = %d, want 1", last.Completed)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := make([]int, 4)
	_, err := Run(ctx, items, 2,
		func(ctx context.Context, index int, item int) (int, int64, error) {
			if ctx.Err() != nil {
				return 0, 0, ctx.Err()
			}
			return index, 0, nil
		}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunEmpty(t *testing.T) {
	results, err := Run(context.Background(), []int(nil), 4,
		func(ctx context.Context, index int, item int) (int, int64, error) {
			return 0, 0, nil
		}, nil)
	if err != nil || len(results) != 0 {
		t.Fatalf("empty run: results=%v err=%v", results, err)
	}
}
