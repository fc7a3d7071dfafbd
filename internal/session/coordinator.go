// internal/session/coordinator.go
//
// The coordinator runs one user turn end to end: record the input, compact
// if the log has grown past the threshold, pick an agent, execute, and on
// failure walk the alternatives until one succeeds or the list runs out.
// At most one turn is in flight per coordinator; submissions while busy are
// rejected with ErrBusy.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/termaite/termaite/internal/compactor"
	"github.com/termaite/termaite/internal/config"
	"github.com/termaite/termaite/internal/cooldown"
	"github.com/termaite/termaite/internal/executor"
	"github.com/termaite/termaite/internal/history"
	"github.com/termaite/termaite/internal/logging"
	"github.com/termaite/termaite/internal/selector"
	"github.com/termaite/termaite/internal/tokens"
	"github.com/termaite/termaite/internal/usage"
)

var (
	// ErrBusy: a turn is already in flight.
	ErrBusy = errors.New("session: a turn is already in flight")
	// ErrEmptyInput: the submitted text was blank.
	ErrEmptyInput = errors.New("session: empty input")
	// ErrNoEligibleAgent: no agent is enabled and available right now.
	ErrNoEligibleAgent = errors.New("session: no eligible agents")
	// ErrCancelled: the user cancelled the turn; the log was rolled back.
	ErrCancelled = errors.New("session: turn cancelled")
	// ErrAllAgentsFailed: the chosen agent and every alternative failed.
	ErrAllAgentsFailed = errors.New("session: all agents failed")
)

// EventKind tags a progress event emitted during a turn.
type EventKind int

const (
	// EventAnnouncement: an agent was chosen and is about to run.
	EventAnnouncement EventKind = iota
	// EventReply: the agent produced its reply.
	EventReply
	// EventFailure: an execution failed; a retry may follow.
	EventFailure
	// EventInfo: advisory text (compaction warnings and the like).
	EventInfo
)

// Event is one ordered progress message from a running turn.
type Event struct {
	Kind  EventKind
	Agent string
	Text  string
}

// Notifier receives events as they happen. It is called from the submitting
// goroutine; implementations must not block for long.
type Notifier func(Event)

// Result summarizes a successful turn.
type Result struct {
	Agent    string
	Reply    string
	Attempts int
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithUsage attaches an execution-history recorder.
func WithUsage(rec *usage.Recorder) Option {
	return func(c *Coordinator) { c.usage = rec }
}

// WithLogger attaches a diagnostics logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithNotifier sets the progress event sink.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notify = n }
}

// Coordinator owns one project's conversation and drives agent turns.
type Coordinator struct {
	cfg     *config.Store
	store   *history.Store
	inputs  *history.InputLog
	sel     *selector.Selector
	tracker *cooldown.Tracker
	wrapper *executor.Wrapper
	comp    *compactor.Compactor
	usage   *usage.Recorder
	log     *logging.Logger
	notify  Notifier

	mu            sync.Mutex
	busy          bool
	firstTurnDone bool
}

// New wires a coordinator from its collaborators.
func New(cfg *config.Store, store *history.Store, inputs *history.InputLog,
	sel *selector.Selector, tracker *cooldown.Tracker, wrapper *executor.Wrapper,
	comp *compactor.Compactor, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		store:   store,
		inputs:  inputs,
		sel:     sel,
		tracker: tracker,
		wrapper: wrapper,
		comp:    comp,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetNotifier replaces the event sink. Interactive clients call this once
// their message loop is ready.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = n
}

func (c *Coordinator) emit(e Event) {
	c.mu.Lock()
	n := c.notify
	c.mu.Unlock()
	if n != nil {
		n(e)
	}
}

// SubmitOption adjusts one submission.
type SubmitOption func(*submitOpts)

type submitOpts struct {
	agentOverride string
}

// WithAgentOverride forces the named agent for the first turn of a session
// (the one-shot --agent flag). Later turns go back through the selector.
func WithAgentOverride(name string) SubmitOption {
	return func(o *submitOpts) { o.agentOverride = name }
}

// Submit runs one full turn for the given user text.
func (c *Coordinator) Submit(text string, opts ...SubmitOption) (*Result, error) {
	var o submitOpts
	for _, opt := range opts {
		opt(&o)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if !c.begin() {
		return nil, ErrBusy
	}
	defer c.end()

	if err := c.inputs.Append(text); err != nil {
		// A lost input-history line is not worth failing the turn.
		c.log.Printf("session: record input: %v", err)
	}

	c.maybeCompact(text)

	// Context for prompt augmentation is the log as it stood before this
	// turn's own entries.
	prior, err := c.store.Read()
	if err != nil {
		c.log.Printf("session: read history: %v", err)
	}

	active, ok := c.chooseAgent(o)
	if !ok {
		return nil, ErrNoEligibleAgent
	}

	appended := 0
	if err := c.store.Append(history.NewTurn(history.SenderUser, text)); err != nil {
		return nil, fmt.Errorf("session: record user turn: %w", err)
	}
	appended++

	queue := []config.Agent{active}
	altsComputed := false
	attempts := 0

	for qi := 0; qi < len(queue); qi++ {
		agent := queue[qi]
		attempts++

		announcement := fmt.Sprintf("Agent (%s):", agent.Name)
		if err := c.store.Append(history.NewTurn(history.SenderAnnouncement, announcement)); err != nil {
			c.log.Printf("session: record announcement: %v", err)
		} else {
			appended++
		}
		c.emit(Event{Kind: EventAnnouncement, Agent: agent.Name, Text: announcement})

		if err := c.cfg.PropagateInstructions(); err != nil {
			c.log.Printf("session: propagate instructions: %v", err)
		}

		prompt := executor.BuildPrompt(prior, text)
		out := c.wrapper.Execute(agent, prompt, c.cfg.EffectiveTimeout(agent))
		c.recordUsage(agent, out, prompt)

		switch out.Kind {
		case executor.KindSuccess:
			reply := strings.TrimSpace(out.Stdout)
			if err := c.store.Append(history.NewTurn(history.SenderAgent, reply)); err != nil {
				c.log.Printf("session: record reply: %v", err)
			}
			c.tracker.MarkUsed(agent.Name)
			c.tracker.RecordSuccess(agent.Name)
			c.emit(Event{Kind: EventReply, Agent: agent.Name, Text: reply})
			return &Result{Agent: agent.Name, Reply: reply, Attempts: attempts}, nil

		case executor.KindCancelled:
			c.rollback(appended)
			c.log.Printf("session: turn cancelled during %q", agent.Name)
			return nil, ErrCancelled

		default:
			period := c.tracker.RecordFailure(agent.Name)
			failure := fmt.Sprintf("Agent %s failed: %s (cooling down for %s)",
				agent.Name, describeFailure(out), period)
			if err := c.store.Append(history.NewTurn(history.SenderSystem, failure)); err != nil {
				c.log.Printf("session: record failure: %v", err)
			} else {
				appended++
			}
			c.emit(Event{Kind: EventFailure, Agent: agent.Name, Text: failure})
			c.log.Printf("session: %s", failure)

			if !altsComputed {
				altsComputed = true
				queue = append(queue, c.sel.SelectAlternatives(agent.Name)...)
			}
		}
	}

	return nil, ErrAllAgentsFailed
}

func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	return true
}

func (c *Coordinator) end() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// Busy reports whether a turn is currently in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *Coordinator) chooseAgent(o submitOpts) (config.Agent, bool) {
	c.mu.Lock()
	first := !c.firstTurnDone
	c.firstTurnDone = true
	c.mu.Unlock()

	if first && o.agentOverride != "" {
		if a, ok := c.cfg.Agent(o.agentOverride); ok {
			return a, true
		}
		c.log.Printf("session: override agent %q not configured, falling back to selector", o.agentOverride)
	}
	return c.sel.SelectNext()
}

// maybeCompact runs compaction when the incoming text would push the log
// over the threshold. Compaction trouble never blocks the turn.
func (c *Coordinator) maybeCompact(incoming string) {
	if !c.comp.NeedsCompaction(incoming) {
		return
	}
	if agent, ok := c.sel.PeekNext(); ok {
		if _, err := c.comp.Compact(agent); err == nil {
			return
		} else {
			c.log.Printf("session: ai compaction failed: %v", err)
		}
	}
	if _, err := c.comp.FallbackCompact(0.5); err != nil {
		c.log.Printf("session: fallback compaction failed: %v", err)
		c.emit(Event{Kind: EventInfo, Text: "warning: context compaction failed; continuing with full history"})
	}
}

// rollback removes the turns appended during a cancelled turn so the log
// matches its pre-submit state.
func (c *Coordinator) rollback(appended int) {
	for i := 0; i < appended; i++ {
		if _, ok, err := c.store.PopLast(); err != nil || !ok {
			c.log.Printf("session: rollback stopped early: ok=%v err=%v", ok, err)
			return
		}
	}
}

func (c *Coordinator) recordUsage(agent config.Agent, out executor.Outcome, prompt string) {
	if c.usage == nil {
		return
	}
	err := c.usage.Add(usage.Record{
		ID:           out.ID.String(),
		Agent:        agent.Name,
		Outcome:      out.Kind.String(),
		ExitCode:     out.ExitCode,
		Duration:     out.Elapsed,
		PromptTokens: tokens.Estimate(prompt),
		OutputTokens: tokens.Estimate(out.Stdout),
	})
	if err != nil {
		c.log.Printf("session: record usage: %v", err)
	}
}

func describeFailure(out executor.Outcome) string {
	switch out.Kind {
	case executor.KindEmptyOutput:
		return "produced no output"
	case executor.KindNonZeroExit:
		msg := fmt.Sprintf("exited with code %d", out.ExitCode)
		if line := firstLine(out.Stderr); line != "" {
			msg += ": " + line
		}
		return msg
	case executor.KindTimeout:
		return fmt.Sprintf("timed out after %s", out.Elapsed.Round(time.Second))
	case executor.KindSpawnError:
		return "could not start: " + out.Err
	}
	return out.Kind.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
