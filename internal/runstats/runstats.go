// Package runstats tracks per-source update outcomes over a sliding window.
// Health reporting reads the failure rate to decide whether the service is
// degraded.
package runstats

import (
	"sync"
	"time"
)

// DefaultMaxAge bounds how long outcomes are retained.
const DefaultMaxAge = 24 * time.Hour

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu           sync.Mutex
	maxAge       time.Duration
	now          func() time.Time
	successTimes []time.Time
	failureTimes []time.Time
	lastRun      time.Time
}

// NewTracker returns a Tracker retaining outcomes for maxAge (DefaultMaxAge if
// non-positive).
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// RecordSuccess records a source that updated successfully.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordFailure records a source whose update failed.
func (t *Tracker) RecordFailure() {
	t.recordOutcome(&t.failureTimes)
}

// RecordRun notes the completion time of a run.
func (t *Tracker) RecordRun(finished time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRun = finished
}

// LastRun returns the completion time of the most recent run, zero if none.
func (t *Tracker) LastRun() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// FailureRate returns (failures, total) within the window.
func (t *Tracker) FailureRate(window time.Duration) (failures, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	f := countInWindow(t.failureTimes, cutoff)
	s := countInWindow(t.successTimes, cutoff)
	return f, f + s
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.failureTimes = nil
	t.lastRun = time.Time{}
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.failureTimes)
}
