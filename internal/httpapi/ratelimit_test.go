package httpapi

import (
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(time.Minute)

	if rl.IsLimited("10.0.0.1") {
		t.Error("an unseen IP should not be limited")
	}

	rl.RecordFailure("10.0.0.1")
	if !rl.IsLimited("10.0.0.1") {
		t.Error("a failed IP should be limited within the delay window")
	}
	if rl.IsLimited("10.0.0.2") {
		t.Error("other IPs should be unaffected")
	}

	rl.ClearFailure("10.0.0.1")
	if rl.IsLimited("10.0.0.1") {
		t.Error("a cleared IP should not be limited")
	}
}

func TestRateLimiterExpiry(t *testing.T) {
	rl := NewRateLimiter(20 * time.Millisecond)

	rl.RecordFailure("10.0.0.1")
	if !rl.IsLimited("10.0.0.1") {
		t.Fatal("IP should be limited right after a failure")
	}

	time.Sleep(50 * time.Millisecond)
	if rl.IsLimited("10.0.0.1") {
		t.Error("the limit should lapse after the delay")
	}
}
