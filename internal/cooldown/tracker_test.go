package cooldown

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker(buffer time.Duration) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tr := New(
		WithClock(clock.Now),
		WithBufferFunc(func(string) time.Duration { return buffer }),
	)
	return tr, clock
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	tr, _ := newTestTracker(0)
	want := []time.Duration{
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		480 * time.Second,
		960 * time.Second,
		1800 * time.Second, // 1920s capped at 30m
		1800 * time.Second,
	}
	for i, w := range want {
		got := tr.RecordFailure("a")
		if got != w {
			t.Fatalf("failure %d: cooldown = %v, want %v", i+1, got, w)
		}
	}
	if tr.FailureCount("a") != len(want) {
		t.Errorf("failure count = %d, want %d", tr.FailureCount("a"), len(want))
	}
}

func TestElapsedCooldownStartsFreshSequence(t *testing.T) {
	tr, clock := newTestTracker(0)
	tr.RecordFailure("a")
	tr.RecordFailure("a")
	if got := tr.FailureCount("a"); got != 2 {
		t.Fatalf("failure count = %d, want 2", got)
	}

	// Let the 120s cooldown lapse entirely, then fail again.
	clock.Advance(3 * time.Minute)
	if tr.InCooldown("a") {
		t.Fatal("cooldown should have expired")
	}
	if got := tr.RecordFailure("a"); got != 60*time.Second {
		t.Errorf("fresh sequence cooldown = %v, want 60s", got)
	}
	if got := tr.FailureCount("a"); got != 1 {
		t.Errorf("failure count = %d, want reset to 1", got)
	}
}

func TestSuccessClearsCooldownState(t *testing.T) {
	tr, _ := newTestTracker(0)
	tr.RecordFailure("a")
	if !tr.InCooldown("a") {
		t.Fatal("expected cooldown after failure")
	}
	tr.RecordSuccess("a")
	if tr.InCooldown("a") || tr.FailureCount("a") != 0 {
		t.Error("success must clear cooldown and failure count")
	}
}

func TestThrottleBufferWindow(t *testing.T) {
	tr, clock := newTestTracker(30 * time.Second)
	if tr.InThrottleBuffer("a") {
		t.Fatal("never-used agent should not be throttled")
	}
	tr.MarkUsed("a")
	if got := tr.RemainingThrottleBuffer("a"); got != 30*time.Second {
		t.Errorf("remaining buffer = %v, want 30s", got)
	}
	clock.Advance(29 * time.Second)
	if !tr.InThrottleBuffer("a") {
		t.Error("still inside buffer at 29s")
	}
	clock.Advance(2 * time.Second)
	if tr.InThrottleBuffer("a") {
		t.Error("buffer should have expired at 31s")
	}
}

func TestIsUnavailableCombinesBothReasons(t *testing.T) {
	tr, clock := newTestTracker(10 * time.Second)
	if tr.IsUnavailable("a") {
		t.Fatal("fresh agent should be available")
	}
	tr.MarkUsed("a")
	if !tr.IsUnavailable("a") {
		t.Error("throttled agent should be unavailable")
	}
	clock.Advance(11 * time.Second)
	if tr.IsUnavailable("a") {
		t.Error("agent should be available after buffer lapses")
	}
	tr.RecordFailure("a")
	if !tr.IsUnavailable("a") {
		t.Error("cooling-down agent should be unavailable")
	}
}

func TestSnapshotOrder(t *testing.T) {
	tr, _ := newTestTracker(0)
	tr.RecordFailure("b")
	got := tr.Snapshot([]string{"a", "b"})
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got[0].Failures != 0 || got[1].Failures != 1 {
		t.Errorf("failure counts wrong: %+v", got)
	}
	if got[1].RemainingCooldown != 60*time.Second {
		t.Errorf("remaining cooldown = %v, want 60s", got[1].RemainingCooldown)
	}
}
