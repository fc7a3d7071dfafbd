// internal/session/operations.go
//
// The operations interactive and one-shot clients call besides Submit.
package session

import (
	"time"

	"github.com/termaite/termaite/internal/compactor"
	"github.com/termaite/termaite/internal/history"
	"github.com/termaite/termaite/internal/usage"
)

// AgentStatus is the per-agent view rendered by status displays.
type AgentStatus struct {
	Name              string
	Enabled           bool
	Failures          int
	RemainingCooldown time.Duration
	RemainingThrottle time.Duration
	Pinned            bool
}

// Available reports whether the agent could be selected right now.
func (s AgentStatus) Available() bool {
	return s.Enabled && s.RemainingCooldown == 0 && s.RemainingThrottle == 0
}

// CancelCurrent terminates the most recent in-flight execution.
func (c *Coordinator) CancelCurrent() bool { return c.wrapper.CancelCurrent() }

// CancelAll terminates every in-flight execution.
func (c *Coordinator) CancelAll() int { return c.wrapper.CancelAll() }

// PeekNextAgent reports which agent the selector would pick next, without
// consuming anything. Used for prefetch display.
func (c *Coordinator) PeekNextAgent() (string, bool) {
	if a, ok := c.sel.PeekNext(); ok {
		return a.Name, true
	}
	return "", false
}

// ListAgentsWithStatus returns every configured agent with its runtime
// state, in configured order.
func (c *Coordinator) ListAgentsWithStatus() []AgentStatus {
	agents := c.cfg.Agents()
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	snapshot := c.tracker.Snapshot(names)
	pinned := c.sel.PinnedAgent()

	out := make([]AgentStatus, len(agents))
	for i, a := range agents {
		out[i] = AgentStatus{
			Name:              a.Name,
			Enabled:           a.IsEnabled(),
			Failures:          snapshot[i].Failures,
			RemainingCooldown: snapshot[i].RemainingCooldown,
			RemainingThrottle: snapshot[i].RemainingThrottle,
			Pinned:            a.Name == pinned,
		}
	}
	return out
}

// SelectAgent pins an agent, either for the next turn only (temporary) or
// as the persisted manual-mode pin.
func (c *Coordinator) SelectAgent(name string, temporary bool) error {
	return c.sel.SelectAgent(name, temporary)
}

// SetStrategy switches the rotation strategy.
func (c *Coordinator) SetStrategy(strategy string) error {
	return c.sel.SetStrategy(strategy)
}

// Strategy returns the active rotation strategy name.
func (c *Coordinator) Strategy() string {
	return string(c.sel.Strategy())
}

// History returns the full turn log.
func (c *Coordinator) History() ([]history.Turn, error) {
	return c.store.Read()
}

// InputHistory returns all recorded user inputs, oldest first.
func (c *Coordinator) InputHistory() ([]string, error) {
	return c.inputs.Read()
}

// ClearHistory wipes the turn log. The user-input log is untouched.
func (c *Coordinator) ClearHistory() error {
	return c.store.Clear()
}

// ClearInputs wipes the user-input log. The turn log is untouched.
func (c *Coordinator) ClearInputs() error {
	return c.inputs.Clear()
}

// ManualCompact compacts now: AI summarization through the next selected
// agent when possible, otherwise token truncation.
func (c *Coordinator) ManualCompact() (compactor.Stats, error) {
	if agent, ok := c.sel.PeekNext(); ok {
		return c.comp.ManualCompact(agent)
	}
	return c.comp.FallbackCompact(0.5)
}

// UsageTotals returns recorded per-agent execution aggregates.
func (c *Coordinator) UsageTotals() ([]usage.Totals, error) {
	if c.usage == nil {
		return nil, nil
	}
	return c.usage.PerAgent()
}
