package admission

import (
	"testing"
	"time"
)

func TestController_AdmitWithinCapacity(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c := New(10, 1000, now)

	if !c.Admit(100) {
		t.Fatal("Admit() = false, want true when both buckets have capacity")
	}
	if got := c.AvailableRequests(); got != 9 {
		t.Errorf("AvailableRequests() = %v, want 9", got)
	}
	if got := c.AvailableTokens(); got != 900 {
		t.Errorf("AvailableTokens() = %v, want 900", got)
	}
}

func TestController_RejectsWhenRequestBucketEmpty(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c := New(1, 1000, now)

	if !c.Admit(10) {
		t.Fatal("first Admit() = false, want true")
	}
	if c.Admit(10) {
		t.Fatal("second Admit() = true, want false (request bucket exhausted)")
	}
}

func TestController_RejectsWhenTokenBucketInsufficient(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c := New(100, 50, now)

	if c.Admit(51) {
		t.Fatal("Admit(51) = true, want false (exceeds 50 token bucket)")
	}
	if !c.Admit(50) {
		t.Fatal("Admit(50) = false, want true (exactly at capacity)")
	}
}

func TestController_ReplenishCapsAtMaximum(t *testing.T) {
	t.Parallel()
	start := time.Now()
	c := New(60, 6000, start)
	c.Admit(60000) // won't apply since token bucket insufficient; drain manually below
	// Drain the token bucket fully via one admission at cost equal to its
	// capacity; the request bucket drops from 60 to 59.
	if !c.Admit(6000) {
		t.Fatal("expected initial admit to succeed")
	}

	// Elapsed a full minute: buckets should refill to (but not beyond) max.
	later := start.Add(61 * time.Second)
	c.Replenish(later)

	if got := c.AvailableRequests(); got != 60 {
		t.Errorf("AvailableRequests() after full-minute replenish = %v, want 60", got)
	}
	if got := c.AvailableTokens(); got != 6000 {
		t.Errorf("AvailableTokens() after full-minute replenish = %v, want 6000", got)
	}
}

func TestController_ReplenishPartial(t *testing.T) {
	t.Parallel()
	start := time.Now()
	c := New(60, 600, start)
	c.Admit(60) // requests: 59 -> wrong, cost here is tokens not requests; use cheap cost
	// Reset state for a clean partial-refill check.
	c = New(60, 600, start)
	if !c.Admit(600) {
		t.Fatal("expected admit to drain full token bucket")
	}

	half := start.Add(30 * time.Second)
	c.Replenish(half)

	if got := c.AvailableTokens(); got != 300 {
		t.Errorf("AvailableTokens() after half-minute replenish = %v, want 300", got)
	}
}

func TestCooldownRemaining(t *testing.T) {
	t.Parallel()

	if got := CooldownRemaining(5*time.Second, CooldownWindow); got <= 0 {
		t.Errorf("CooldownRemaining(5s) = %v, want positive (still cooling down)", got)
	}
	if got := CooldownRemaining(20*time.Second, CooldownWindow); got > 0 {
		t.Errorf("CooldownRemaining(20s) = %v, want <= 0 (cooldown elapsed)", got)
	}
}
