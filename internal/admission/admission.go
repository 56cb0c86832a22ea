// Package admission implements the dual-bucket rate-pacing gate of
// spec.md §4.7: two continuous-time lazy-refill token buckets (one for
// requests per minute, one for tokens per minute) plus the cool-down
// reaction to server-reported rate-limit pressure.
//
// Unlike the teacher's internal/ratelimit, which guards a Limiter per API
// key behind a mutex because many HTTP handler goroutines touch it
// concurrently, this Controller is owned and mutated exclusively by the
// dispatcher's single scheduling goroutine (spec.md §5) and needs no
// locking at all.
package admission

import "time"

// Controller holds the Admission State triple of spec.md §3:
// (available_requests, available_tokens, last_update_time).
type Controller struct {
	maxRequestsPerMinute float64
	maxTokensPerMinute   float64

	availableRequests float64
	availableTokens   float64
	lastUpdate        time.Time
}

// New creates a Controller with both buckets full, matching the original
// script's initialization of available capacity to the configured maximum.
func New(maxRequestsPerMinute, maxTokensPerMinute float64, now time.Time) *Controller {
	return &Controller{
		maxRequestsPerMinute: maxRequestsPerMinute,
		maxTokensPerMinute:   maxTokensPerMinute,
		availableRequests:    maxRequestsPerMinute,
		availableTokens:      maxTokensPerMinute,
		lastUpdate:           now,
	}
}

// Replenish advances the buckets by the elapsed time since the last call
// (spec.md §4.7's per-tick replenishment formula). Must be called once per
// scheduling tick, before Admit.
func (c *Controller) Replenish(now time.Time) {
	delta := now.Sub(c.lastUpdate).Seconds()
	if delta > 0 {
		c.availableRequests = min(c.maxRequestsPerMinute, c.availableRequests+c.maxRequestsPerMinute*delta/60)
		c.availableTokens = min(c.maxTokensPerMinute, c.availableTokens+c.maxTokensPerMinute*delta/60)
	}
	c.lastUpdate = now
}

// Admit reports whether a candidate record of the given token cost may be
// dispatched right now, and if so deducts its cost from both buckets
// (spec.md §4.7's admission test). Replenish must have been called for the
// current tick first.
func (c *Controller) Admit(tokenCost int) bool {
	if c.availableRequests < 1 || c.availableTokens < float64(tokenCost) {
		return false
	}
	c.availableRequests--
	c.availableTokens -= float64(tokenCost)
	return true
}

// AvailableRequests and AvailableTokens expose the current bucket levels
// for the status server and metrics (spec.md's C12/telemetry ambient
// stack); never used to gate admission directly.
func (c *Controller) AvailableRequests() float64 { return c.availableRequests }
func (c *Controller) AvailableTokens() float64   { return c.availableTokens }

// CooldownRemaining returns how much longer the dispatcher must sleep
// before proceeding, given the elapsed time since the tracker's last
// observed rate-limit error (spec.md §4.7's cool-down). A nonpositive
// result means no cooldown is in effect.
func CooldownRemaining(sinceLastRateLimitError time.Duration, window time.Duration) time.Duration {
	return window - sinceLastRateLimitError
}

// CooldownWindow is the fixed 15-second window spec.md §4.7 specifies.
const CooldownWindow = 15 * time.Second
