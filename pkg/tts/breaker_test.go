package tts

import (
	"testing"
	"time"
)

func testBreaker(threshold int, window, cooldown time.Duration) (*Breaker, *time.Time) {
	now := time.Now()
	b := NewBreaker(threshold, window, cooldown)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := testBreaker(3, time.Minute, 30*time.Second)

	b.Failure()
	b.Failure()
	if !b.Allow() {
		t.Fatal("breaker should stay closed below the threshold")
	}
	b.Failure()
	if b.Allow() {
		t.Error("breaker should be open after threshold failures")
	}
	if got := b.State(); got != "open" {
		t.Errorf("state = %q, want open", got)
	}
}

func TestBreakerIgnoresFailuresOutsideWindow(t *testing.T) {
	b, now := testBreaker(3, time.Minute, 30*time.Second)

	b.Failure()
	b.Failure()
	*now = now.Add(2 * time.Minute)
	b.Failure()

	if !b.Allow() {
		t.Error("stale failures must not count toward the threshold")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(3, time.Minute, 30*time.Second)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()

	if !b.Allow() {
		t.Error("success should clear accumulated failures")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, now := testBreaker(2, time.Minute, 30*time.Second)

	b.Failure()
	b.Failure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	*now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("cooldown elapsed, one probe should be allowed")
	}
	if got := b.State(); got != "half-open" {
		t.Fatalf("state = %q, want half-open", got)
	}
	if b.Allow() {
		t.Error("only one probe may run while half-open")
	}

	t.Run("probe success closes", func(t *testing.T) {
		b.Success()
		if got := b.State(); got != "closed" {
			t.Errorf("state = %q, want closed", got)
		}
		if !b.Allow() {
			t.Error("closed breaker should allow requests")
		}
	})
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, now := testBreaker(2, time.Minute, 30*time.Second)

	b.Failure()
	b.Failure()
	*now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}

	b.Failure()
	if got := b.State(); got != "open" {
		t.Errorf("state = %q, want open after probe failure", got)
	}
	if b.Allow() {
		t.Error("re-opened breaker must wait out another cooldown")
	}

	*now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Error("second cooldown elapsed, probe should be allowed again")
	}
}
