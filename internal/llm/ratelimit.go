package llm

import (
	"context"
	"sync"
	"time"
)

const rateWindow = 60 * time.Second

// RateLimiter admits requests under a sliding 60-second window cap. An rpm
// of 0 disables limiting entirely. State is owned by whoever constructs the
// limiter; orchestration runs share one instance deliberately, never through
// package-level globals.
type RateLimiter struct {
	mu         sync.Mutex
	rpm        int
	timestamps []time.Time
	now        func() time.Time // overridable for tests
}

// NewRateLimiter creates a limiter with the given requests-per-minute cap
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		rpm: rpm,
		now: time.Now,
	}
}

// SetRPM atomically changes the cap for subsequent admissions. Requests
// already admitted are unaffected.
func (r *RateLimiter) SetRPM(rpm int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rpm = rpm
}

// Wait blocks until the caller may proceed, then records the admission.
// Admission is a single serialized gate: the check and the timestamp record
// happen under one lock, so two concurrent callers can never both observe
// the same last free slot. Cancelling the context unblocks the wait
// immediately.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.rpm <= 0 {
			r.mu.Unlock()
			return nil
		}

		now := r.now()
		r.prune(now)

		if len(r.timestamps) < r.rpm {
			r.timestamps = append(r.timestamps, now)
			r.mu.Unlock()
			return nil
		}

		// Window is full; sleep until the oldest admission leaves it
		wakeAt := r.timestamps[0].Add(rateWindow)
		r.mu.Unlock()

		delay := wakeAt.Sub(now)
		if delay < time.Millisecond {
			delay = time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops timestamps that have left the sliding window. Caller holds mu.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	idx := 0
	for idx < len(r.timestamps) && !r.timestamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		r.timestamps = append(r.timestamps[:0], r.timestamps[idx:]...)
	}
}

// Admitted returns the number of admissions currently inside the window
func (r *RateLimiter) Admitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return len(r.timestamps)
}
