// internal/config/config.go
//
// This package handles the per-user configuration document. It lives at
// ~/.termaite/config.json and declares the agent roster, the rotation
// strategy, and the timeout defaults. A seeded default is written on first
// use so users have a template to edit.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultAgentTimeout applies when an agent declares no timeoutSeconds.
	DefaultAgentTimeout = 300 * time.Second

	configFileName       = "config.json"
	instructionsFileName = "INSTRUCTIONS.md"
)

// Duration is a time.Duration that marshals as a duration string ("30s",
// "2m") inside the JSON config.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or null.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = 0
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Agent is one configured agent subprocess. The sequence order in the config
// document is the priority order used by the exhaustion strategy.
type Agent struct {
	Name                 string   `json:"name"`
	Command              string   `json:"command"`
	ContextWindowTokens  int      `json:"contextWindowTokens"`
	TimeoutSeconds       *int     `json:"timeoutSeconds,omitempty"`
	Enabled              *bool    `json:"enabled,omitempty"`
	TimeoutBuffer        Duration `json:"timeoutBuffer,omitempty"`
	InstructionsFilepath string   `json:"instructionsFilepath,omitempty"`
}

// IsEnabled reports whether the agent participates in selection. Agents are
// enabled unless the config explicitly disables them.
func (a Agent) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// File models the on-disk configuration document.
type File struct {
	RotationStrategy     string   `json:"rotationStrategy"`
	GlobalTimeoutSeconds *int     `json:"globalTimeoutSeconds"`
	TimeoutBuffer        Duration `json:"timeoutBuffer,omitempty"`
	Agents               []Agent  `json:"agents"`
}

// Store loads and persists the configuration document.
type Store struct {
	path string
	doc  File
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".termaite", configFileName), nil
}

// Load reads the config document at path, seeding a default document on
// first use.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.doc = defaultFile()
			if err := s.Save(); err != nil {
				return nil, err
			}
			return s, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed File
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	s.doc = parsed
	return s, nil
}

// Path returns the file backing this store.
func (s *Store) Path() string { return s.path }

// Document returns a copy of the loaded configuration.
func (s *Store) Document() File {
	doc := s.doc
	doc.Agents = append([]Agent(nil), s.doc.Agents...)
	return doc
}

// Agents returns all configured agents in priority order.
func (s *Store) Agents() []Agent {
	return append([]Agent(nil), s.doc.Agents...)
}

// EnabledAgents returns the configured agents with enabled != false, in
// priority order.
func (s *Store) EnabledAgents() []Agent {
	var out []Agent
	for _, a := range s.doc.Agents {
		if a.IsEnabled() {
			out = append(out, a)
		}
	}
	return out
}

// Agent looks up a configured agent by name.
func (s *Store) Agent(name string) (Agent, bool) {
	for _, a := range s.doc.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}

// RotationStrategy returns the configured default strategy.
func (s *Store) RotationStrategy() string { return s.doc.RotationStrategy }

// SetRotationStrategy persists a new default strategy. The selector writes
// through here when the strategy changes at runtime.
func (s *Store) SetRotationStrategy(strategy string) error {
	normalized := normalizeStrategy(strategy)
	if !validStrategy(normalized) {
		return fmt.Errorf("config: unknown rotation strategy %q", strategy)
	}
	s.doc.RotationStrategy = normalized
	return s.Save()
}

// EffectiveTimeout returns the subprocess timeout for one agent, honoring the
// global override. Zero means no timeout.
func (s *Store) EffectiveTimeout(a Agent) time.Duration {
	if s.doc.GlobalTimeoutSeconds != nil {
		return time.Duration(*s.doc.GlobalTimeoutSeconds) * time.Second
	}
	if a.TimeoutSeconds != nil {
		return time.Duration(*a.TimeoutSeconds) * time.Second
	}
	return DefaultAgentTimeout
}

// AgentTimeoutBuffer returns the throttle buffer for one agent: the
// per-agent value when set, otherwise the process-wide default.
func (s *Store) AgentTimeoutBuffer(a Agent) time.Duration {
	if a.TimeoutBuffer != 0 {
		return time.Duration(a.TimeoutBuffer)
	}
	return time.Duration(s.doc.TimeoutBuffer)
}

// MinContextWindow returns the smallest context window across configured
// agents; the compaction threshold is derived from it. Returns 0 when no
// agents are configured.
func (s *Store) MinContextWindow() int {
	min := 0
	for _, a := range s.doc.Agents {
		if a.ContextWindowTokens <= 0 {
			continue
		}
		if min == 0 || a.ContextWindowTokens < min {
			min = a.ContextWindowTokens
		}
	}
	return min
}

// InstructionsSourcePath returns the well-known global instructions file
// that PropagateInstructions copies from.
func (s *Store) InstructionsSourcePath() string {
	return filepath.Join(filepath.Dir(s.path), instructionsFileName)
}

// PropagateInstructions copies the global instructions file into every
// enabled agent's instructionsFilepath, creating parent directories as
// needed. A missing source file is not an error; agents simply keep their
// current instructions.
func (s *Store) PropagateInstructions() error {
	data, err := os.ReadFile(s.InstructionsSourcePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read instructions: %w", err)
	}
	for _, a := range s.EnabledAgents() {
		if a.InstructionsFilepath == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(a.InstructionsFilepath), 0o755); err != nil {
			return fmt.Errorf("config: ensure instructions dir for %s: %w", a.Name, err)
		}
		if err := os.WriteFile(a.InstructionsFilepath, data, 0o644); err != nil {
			return fmt.Errorf("config: propagate instructions to %s: %w", a.Name, err)
		}
	}
	return nil
}

// Save writes the document back to disk.
func (s *Store) Save() error {
	s.doc.normalize()
	if err := s.doc.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("config: ensure config dir: %w", err)
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("config: write config: %w", err)
	}
	return nil
}

func defaultFile() File {
	disabled := false
	window := 200000
	return File{
		RotationStrategy: "exhaustion",
		Agents: []Agent{
			{
				Name:                "example-claude",
				Command:             "claude -p",
				ContextWindowTokens: window,
				Enabled:             &disabled,
			},
		},
	}
}

func (f *File) normalize() {
	f.RotationStrategy = normalizeStrategy(f.RotationStrategy)
	if f.RotationStrategy == "" {
		f.RotationStrategy = "exhaustion"
	}
	for i := range f.Agents {
		f.Agents[i].Name = strings.TrimSpace(f.Agents[i].Name)
	}
}

func (f *File) validate() error {
	if !validStrategy(f.RotationStrategy) {
		return fmt.Errorf("rotationStrategy must be one of round-robin, exhaustion, random, manual")
	}
	if f.GlobalTimeoutSeconds != nil && *f.GlobalTimeoutSeconds < 0 {
		return fmt.Errorf("globalTimeoutSeconds must be non-negative")
	}
	seen := make(map[string]bool, len(f.Agents))
	for i, a := range f.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents[%d]: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("agents[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
		if strings.TrimSpace(a.Command) == "" {
			return fmt.Errorf("agents[%d] (%s): command is required", i, a.Name)
		}
		if a.ContextWindowTokens <= 0 {
			return fmt.Errorf("agents[%d] (%s): contextWindowTokens must be positive", i, a.Name)
		}
		if a.TimeoutSeconds != nil && *a.TimeoutSeconds < 0 {
			return fmt.Errorf("agents[%d] (%s): timeoutSeconds must be non-negative", i, a.Name)
		}
		if a.InstructionsFilepath != "" && !filepath.IsAbs(a.InstructionsFilepath) {
			return fmt.Errorf("agents[%d] (%s): instructionsFilepath must be absolute", i, a.Name)
		}
	}
	return nil
}

// normalizeStrategy lowers the name and resolves the legacy "exhaust" alias.
func normalizeStrategy(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "exhaust" {
		return "exhaustion"
	}
	return v
}

func validStrategy(value string) bool {
	switch value {
	case "round-robin", "exhaustion", "random", "manual":
		return true
	}
	return false
}
