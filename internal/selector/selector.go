// internal/selector/selector.go
//
// The selector decides which configured agent handles the next prompt. It is
// stateless with respect to eligibility (the cooldown tracker is asked every
// time); the only mutating state is the round-robin cursor, the manual pin,
// and the one-shot temporary agent.
package selector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/termaite/termaite/internal/config"
	"github.com/termaite/termaite/internal/cooldown"
	"github.com/termaite/termaite/internal/logging"
)

// Strategy names a rotation policy.
type Strategy string

const (
	RoundRobin Strategy = "round-robin"
	Exhaustion Strategy = "exhaustion"
	Random     Strategy = "random"
	Manual     Strategy = "manual"
)

// ParseStrategy normalizes a strategy name, resolving the legacy "exhaust"
// alias.
func ParseStrategy(raw string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "round-robin":
		return RoundRobin, nil
	case "exhaustion", "exhaust":
		return Exhaustion, nil
	case "random":
		return Random, nil
	case "manual":
		return Manual, nil
	}
	return "", fmt.Errorf("selector: unknown strategy %q", raw)
}

// persistedState is the on-disk shape of the selector state file.
type persistedState struct {
	Cursor        int     `json:"cursor"`
	SelectedAgent *string `json:"selectedAgent"`
	Strategy      string  `json:"strategy"`
}

// Option customizes a Selector.
type Option func(*Selector)

// WithRand overrides the random source used by the random strategy.
func WithRand(intn func(n int) int) Option {
	return func(s *Selector) {
		if intn != nil {
			s.intn = intn
		}
	}
}

// WithLogger attaches a diagnostics logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Selector) { s.log = log }
}

// Selector implements the rotation policies over the configured agents.
type Selector struct {
	mu        sync.Mutex
	cfg       *config.Store
	tracker   *cooldown.Tracker
	statePath string
	log       *logging.Logger
	intn      func(n int) int

	cursor     int
	pinned     string
	strategy   Strategy
	temporary  string
	randomPick string
}

// New creates a selector, loading persisted state from statePath when it
// exists. The strategy defaults to the config document's rotationStrategy.
func New(cfg *config.Store, tracker *cooldown.Tracker, statePath string, opts ...Option) (*Selector, error) {
	s := &Selector{
		cfg:       cfg,
		tracker:   tracker,
		statePath: statePath,
		intn:      rand.Intn,
	}
	for _, opt := range opts {
		opt(s)
	}

	strategy, err := ParseStrategy(cfg.RotationStrategy())
	if err != nil {
		return nil, err
	}
	s.strategy = strategy

	if err := s.loadState(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Selector) loadState() error {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("selector: read state: %w", err)
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		// A corrupt state file is not worth failing startup over.
		s.log.Printf("selector: discarding corrupt state file %s: %v", s.statePath, err)
		return nil
	}
	s.cursor = st.Cursor
	if st.SelectedAgent != nil {
		s.pinned = *st.SelectedAgent
	}
	if st.Strategy != "" {
		if strategy, err := ParseStrategy(st.Strategy); err == nil {
			s.strategy = strategy
		}
	}
	return nil
}

func (s *Selector) persistLocked() {
	st := persistedState{Cursor: s.cursor, Strategy: string(s.strategy)}
	if s.pinned != "" {
		st.SelectedAgent = &s.pinned
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		s.log.Printf("selector: encode state: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0o755); err != nil {
		s.log.Printf("selector: ensure state dir: %v", err)
		return
	}
	if err := os.WriteFile(s.statePath, append(data, '\n'), 0o644); err != nil {
		s.log.Printf("selector: write state: %v", err)
	}
}

// Strategy returns the active rotation strategy.
func (s *Selector) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// PinnedAgent returns the manual-mode pin, or "".
func (s *Selector) PinnedAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

// SetStrategy switches the rotation strategy, persists the selector state,
// and writes the strategy through to the config document.
func (s *Selector) SetStrategy(raw string) error {
	strategy, err := ParseStrategy(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.strategy = strategy
	s.persistLocked()
	s.mu.Unlock()
	return s.cfg.SetRotationStrategy(string(strategy))
}

// SelectAgent pins an agent. With temporary=true the pin applies to the next
// selection only and is held in memory, never written to the state file;
// otherwise it becomes the persisted manual-mode pin.
func (s *Selector) SelectAgent(name string, temporary bool) error {
	if _, ok := s.cfg.Agent(name); !ok {
		return fmt.Errorf("selector: unknown agent %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if temporary {
		s.temporary = name
		return nil
	}
	s.pinned = name
	s.persistLocked()
	return nil
}

func (s *Selector) eligible(a config.Agent) bool {
	return a.IsEnabled() && !s.tracker.IsUnavailable(a.Name)
}

// SelectNext returns the next eligible agent under the active strategy, or
// false when no agent is currently eligible. A set temporary agent is
// consumed by this call whether or not it was eligible.
func (s *Selector) SelectNext() (config.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(true)
}

// PeekNext returns what SelectNext would return without consuming the
// temporary agent or advancing the cursor.
func (s *Selector) PeekNext() (config.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(false)
}

func (s *Selector) selectLocked(mutate bool) (config.Agent, bool) {
	agents := s.cfg.Agents()

	if s.temporary != "" {
		name := s.temporary
		if mutate {
			s.temporary = ""
		}
		for _, a := range agents {
			if a.Name == name && s.eligible(a) {
				return a, true
			}
		}
		// Ineligible temporary falls through to the normal strategy.
	}

	switch s.strategy {
	case RoundRobin:
		return s.roundRobinLocked(agents, mutate)
	case Exhaustion:
		return firstEligible(agents, s.eligible)
	case Random:
		return s.randomLocked(agents, mutate)
	case Manual:
		for _, a := range agents {
			if a.Name == s.pinned && s.eligible(a) {
				return a, true
			}
		}
		return firstEligible(agents, s.eligible)
	}
	return config.Agent{}, false
}

func (s *Selector) roundRobinLocked(agents []config.Agent, mutate bool) (config.Agent, bool) {
	n := len(agents)
	if n == 0 {
		return config.Agent{}, false
	}
	start := s.cursor % n
	if start < 0 {
		start += n
	}
	for offset := 0; offset < n; offset++ {
		i := (start + offset) % n
		if s.eligible(agents[i]) {
			if mutate {
				s.cursor = (i + 1) % n
				s.persistLocked()
			}
			return agents[i], true
		}
	}
	return config.Agent{}, false
}

func (s *Selector) randomLocked(agents []config.Agent, mutate bool) (config.Agent, bool) {
	var pool []config.Agent
	for _, a := range agents {
		if s.eligible(a) {
			pool = append(pool, a)
		}
	}
	if len(pool) == 0 {
		s.randomPick = ""
		return config.Agent{}, false
	}

	// A peeked pick is held until the next selection so a status display and
	// the selection that follows it name the same agent. A held pick that
	// became ineligible is re-rolled.
	if s.randomPick != "" {
		for _, a := range pool {
			if a.Name == s.randomPick {
				if mutate {
					s.randomPick = ""
				}
				return a, true
			}
		}
		s.randomPick = ""
	}

	a := pool[s.intn(len(pool))]
	if !mutate {
		s.randomPick = a.Name
	}
	return a, true
}

func firstEligible(agents []config.Agent, eligible func(config.Agent) bool) (config.Agent, bool) {
	for _, a := range agents {
		if eligible(a) {
			return a, true
		}
	}
	return config.Agent{}, false
}

// SelectAlternatives returns the eligible agents other than excludeName, in
// configured order. This is the retry queue after a failed execution.
func (s *Selector) SelectAlternatives(excludeName string) []config.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []config.Agent
	for _, a := range s.cfg.Agents() {
		if a.Name == excludeName {
			continue
		}
		if s.eligible(a) {
			out = append(out, a)
		}
	}
	return out
}
