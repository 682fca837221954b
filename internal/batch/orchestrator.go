// Package batch provides a generic bounded-concurrency runner with stable
// result ordering, monotone progress reporting, and a fast-fail policy.
package batch

import (
	"context"
	"fmt"
	"sync"
)

// Progress represents cumulative completion for one run. Completed and
// Tokens only ever grow while a run is in flight.
type Progress struct {
	Completed int
	Total     int
	Tokens    int64
}

// ProgressFunc receives a progress snapshot after each unit completes
type ProgressFunc func(Progress)

// UnitFunc executes one unit of work. It returns the unit's result and the
// tokens the unit consumed.
type UnitFunc[T, R any] func(ctx context.Context, index int, item T) (R, int64, error)

// Run executes the items with at most the given concurrency. Results are
// indexed by item position regardless of completion order. The first unit
// failure cancels the remaining units and is surfaced as one aggregate
// error; results of units that completed before the failure stay populated,
// and the caller decides what to keep. Tokens reported by a failing unit
// still count toward the run total.
func Run[T, R any](ctx context.Context, items []T, concurrency int, fn UnitFunc[T, R], onProgress ProgressFunc) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		progress = Progress{Total: len(items)}
		firstErr error
	)

	sem := make(chan struct{}, concurrency)
	for i := range items {
		// Stop launching once a sibling has failed
		if runCtx.Err() != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
		}
		if runCtx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer func() { <-sem }()

			value, tokens, err := fn(runCtx, index, items[index])

			mu.Lock()
			defer mu.Unlock()
			// Tokens were spent whether or not the unit succeeded
			progress.Tokens += tokens
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("unit %d failed: %w", index, err)
					cancel()
				}
				if onProgress != nil && tokens > 0 {
					onProgress(progress)
				}
				return
			}
			results[index] = value
			progress.Completed++
			if onProgress != nil {
				onProgress(progress)
			}
		}(i)
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return results, firstErr
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
