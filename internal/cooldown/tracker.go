// internal/cooldown/tracker.go
//
// Per-agent failure accounting. Consecutive failures put an agent into an
// exponentially growing cooldown; a successful use applies a shorter
// throttle buffer so the same agent is not hammered back-to-back. Expiry is
// computed from stored instants, never from timers.
package cooldown

import (
	"sync"
	"time"
)

const (
	// baseCooldown is the period after the first failure in a sequence.
	baseCooldown = 60 * time.Second
	// maxCooldown caps the exponential growth.
	maxCooldown = 30 * time.Minute
)

// BufferFunc resolves the throttle buffer for an agent name. The config
// store supplies this so per-agent overrides and the global default both
// apply.
type BufferFunc func(name string) time.Duration

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.now = clock
		}
	}
}

// WithBufferFunc sets the throttle-buffer lookup.
func WithBufferFunc(fn BufferFunc) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.buffer = fn
		}
	}
}

type agentState struct {
	failures      int
	cooldownUntil time.Time
	lastUsed      time.Time
}

// Tracker holds in-memory runtime state per agent name. All methods are safe
// for concurrent use; the lock never spans anything that blocks.
type Tracker struct {
	mu     sync.Mutex
	now    func() time.Time
	buffer BufferFunc
	states map[string]*agentState
}

// New creates a tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		now:    time.Now,
		buffer: func(string) time.Duration { return 0 },
		states: make(map[string]*agentState),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure notes one failed execution for name and returns the cooldown
// period now in effect. A failure arriving after the previous cooldown
// already elapsed starts a fresh sequence.
func (t *Tracker) RecordFailure(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	st := t.states[name]
	if st == nil {
		st = &agentState{}
		t.states[name] = st
	}
	if st.failures == 0 || !st.cooldownUntil.After(now) {
		st.failures = 1
	} else {
		st.failures++
	}
	period := baseCooldown << (st.failures - 1)
	if st.failures > 30 || period > maxCooldown || period <= 0 {
		period = maxCooldown
	}
	st.cooldownUntil = now.Add(period)
	return period
}

// RecordSuccess clears the failure sequence for name. The last-used instant
// is preserved; the throttle buffer is independent of cooldown.
func (t *Tracker) RecordSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.states[name]; st != nil {
		st.failures = 0
		st.cooldownUntil = time.Time{}
	}
}

// MarkUsed stamps name as just used, starting its throttle buffer.
func (t *Tracker) MarkUsed(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[name]
	if st == nil {
		st = &agentState{}
		t.states[name] = st
	}
	st.lastUsed = t.now()
}

// FailureCount returns the current consecutive failure count for name.
func (t *Tracker) FailureCount(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.states[name]; st != nil {
		return st.failures
	}
	return 0
}

// RemainingCooldown returns how long name stays in cooldown, or 0.
func (t *Tracker) RemainingCooldown(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingCooldownLocked(name)
}

func (t *Tracker) remainingCooldownLocked(name string) time.Duration {
	st := t.states[name]
	if st == nil || st.cooldownUntil.IsZero() {
		return 0
	}
	if remaining := st.cooldownUntil.Sub(t.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// RemainingThrottleBuffer returns how long name stays throttled after its
// last use, or 0.
func (t *Tracker) RemainingThrottleBuffer(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingBufferLocked(name)
}

func (t *Tracker) remainingBufferLocked(name string) time.Duration {
	st := t.states[name]
	if st == nil || st.lastUsed.IsZero() {
		return 0
	}
	buf := t.buffer(name)
	if buf <= 0 {
		return 0
	}
	if remaining := st.lastUsed.Add(buf).Sub(t.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// InCooldown reports whether name is currently cooling down.
func (t *Tracker) InCooldown(name string) bool {
	return t.RemainingCooldown(name) > 0
}

// InThrottleBuffer reports whether name is inside its post-use buffer.
func (t *Tracker) InThrottleBuffer(name string) bool {
	return t.RemainingThrottleBuffer(name) > 0
}

// IsUnavailable reports whether name is excluded from selection right now,
// for either reason.
func (t *Tracker) IsUnavailable(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingCooldownLocked(name) > 0 || t.remainingBufferLocked(name) > 0
}

// Status is a point-in-time snapshot of one agent's runtime state.
type Status struct {
	Name              string
	Failures          int
	RemainingCooldown time.Duration
	RemainingThrottle time.Duration
}

// Snapshot returns the runtime status for the given names, in order.
func (t *Tracker) Snapshot(names []string) []Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		s := Status{Name: name}
		if st := t.states[name]; st != nil {
			s.Failures = st.failures
		}
		s.RemainingCooldown = t.remainingCooldownLocked(name)
		s.RemainingThrottle = t.remainingBufferLocked(name)
		out = append(out, s)
	}
	return out
}
