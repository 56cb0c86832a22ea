package dispatch

import (
	"sync/atomic"
	"time"
)

// Tracker is the Status Tracker of spec.md §3 and §4.4: a single
// process-wide object with counters and the timestamp of the most recent
// server-reported rate-limit error. All fields are atomics so that
// concurrent attempt goroutines and the single dispatcher goroutine can
// mutate them without a shared mutex, the same bias the teacher shows in
// internal/circuitbreaker's sliding window and internal/ratelimit's bucket
// math (lock where state composes multiple fields atomically, atomics
// where a single counter suffices).
type Tracker struct {
	started         atomic.Int64
	inProgress      atomic.Int64
	succeeded       atomic.Int64
	failed          atomic.Int64
	rateLimitErrors atomic.Int64
	apiErrors       atomic.Int64
	otherErrors     atomic.Int64

	// lastRateLimitErrorNano is UnixNano of the most recent rate-limit
	// error, or 0 if none has occurred yet.
	lastRateLimitErrorNano atomic.Int64
}

// NewTracker creates a zeroed Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordStarted is called when a record is first read from the input
// stream: it counts as started and in-progress until it reaches a terminal
// state, however many retries that takes.
func (t *Tracker) RecordStarted() {
	t.started.Add(1)
	t.inProgress.Add(1)
}

// RecordRateLimitError marks a rate-limit error observation: increments the
// disjoint rate-limit counter and stamps the cooldown timestamp. Per
// spec.md §9's open question, this spec keeps num_api_errors and
// num_rate_limit_errors strictly disjoint -- callers must not also call
// RecordAPIError for the same observation.
func (t *Tracker) RecordRateLimitError(now time.Time) {
	t.rateLimitErrors.Add(1)
	t.lastRateLimitErrorNano.Store(now.UnixNano())
}

// RecordAPIError marks a non-rate-limit server-reported error.
func (t *Tracker) RecordAPIError() {
	t.apiErrors.Add(1)
}

// RecordOtherError marks a transport or decode exception.
func (t *Tracker) RecordOtherError() {
	t.otherErrors.Add(1)
}

// RecordSucceeded marks a record's terminal success: decrements in-progress,
// increments succeeded. Must be called exactly once per record.
func (t *Tracker) RecordSucceeded() {
	t.inProgress.Add(-1)
	t.succeeded.Add(1)
}

// RecordFailed marks a record's terminal failure (attempts exhausted):
// decrements in-progress, increments failed. Must be called exactly once
// per record.
func (t *Tracker) RecordFailed() {
	t.inProgress.Add(-1)
	t.failed.Add(1)
}

// InProgress returns the current in-progress count. The dispatcher
// terminates when this reaches zero and no next-pending record is held.
func (t *Tracker) InProgress() int64 { return t.inProgress.Load() }

// TimeSinceLastRateLimitError returns the duration since the last recorded
// rate-limit error, or a very large duration if none has occurred.
func (t *Tracker) TimeSinceLastRateLimitError(now time.Time) time.Duration {
	last := t.lastRateLimitErrorNano.Load()
	if last == 0 {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(time.Unix(0, last))
}

// Snapshot is a point-in-time copy of all counters, used by the status
// server and the end-of-run summary log line.
type Snapshot struct {
	Started         int64
	InProgress      int64
	Succeeded       int64
	Failed          int64
	RateLimitErrors int64
	APIErrors       int64
	OtherErrors     int64
}

// Snapshot returns the current counter values.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		Started:         t.started.Load(),
		InProgress:      t.inProgress.Load(),
		Succeeded:       t.succeeded.Load(),
		Failed:          t.failed.Load(),
		RateLimitErrors: t.rateLimitErrors.Load(),
		APIErrors:       t.apiErrors.Load(),
		OtherErrors:     t.otherErrors.Load(),
	}
}
