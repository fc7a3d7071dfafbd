// internal/config/roster.go
//
// Agent rosters can be exported to and imported from a YAML document so a
// working set of agents can be shared between machines without hand-editing
// the JSON config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// rosterDoc is the shareable YAML shape. It mirrors Agent but keeps its own
// tags so the JSON config format stays independent.
type rosterDoc struct {
	Version int           `yaml:"version"`
	Agents  []rosterAgent `yaml:"agents"`
}

type rosterAgent struct {
	Name                 string `yaml:"name"`
	Command              string `yaml:"command"`
	ContextWindowTokens  int    `yaml:"context_window_tokens"`
	TimeoutSeconds       *int   `yaml:"timeout_seconds,omitempty"`
	Enabled              *bool  `yaml:"enabled,omitempty"`
	TimeoutBuffer        string `yaml:"timeout_buffer,omitempty"`
	InstructionsFilepath string `yaml:"instructions_filepath,omitempty"`
}

// ExportRoster writes the configured agents to path as YAML.
func (s *Store) ExportRoster(path string) error {
	doc := rosterDoc{Version: 1}
	for _, a := range s.doc.Agents {
		ra := rosterAgent{
			Name:                 a.Name,
			Command:              a.Command,
			ContextWindowTokens:  a.ContextWindowTokens,
			TimeoutSeconds:       a.TimeoutSeconds,
			Enabled:              a.Enabled,
			InstructionsFilepath: a.InstructionsFilepath,
		}
		if a.TimeoutBuffer != 0 {
			ra.TimeoutBuffer = time.Duration(a.TimeoutBuffer).String()
		}
		doc.Agents = append(doc.Agents, ra)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: encode roster: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write roster: %w", err)
	}
	return nil
}

// ImportRoster replaces the configured agents with the roster at path and
// persists the result. The import is all-or-nothing: a roster that fails
// validation leaves the current config untouched.
func (s *Store) ImportRoster(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("config: read roster: %w", err)
	}
	var doc rosterDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("config: parse roster: %w", err)
	}
	if len(doc.Agents) == 0 {
		return 0, fmt.Errorf("config: roster %s declares no agents", path)
	}

	agents := make([]Agent, 0, len(doc.Agents))
	for i, ra := range doc.Agents {
		a := Agent{
			Name:                 strings.TrimSpace(ra.Name),
			Command:              ra.Command,
			ContextWindowTokens:  ra.ContextWindowTokens,
			TimeoutSeconds:       ra.TimeoutSeconds,
			Enabled:              ra.Enabled,
			InstructionsFilepath: ra.InstructionsFilepath,
		}
		if ra.TimeoutBuffer != "" {
			buf, err := time.ParseDuration(ra.TimeoutBuffer)
			if err != nil {
				return 0, fmt.Errorf("config: roster agents[%d]: invalid timeout_buffer %q: %w", i, ra.TimeoutBuffer, err)
			}
			a.TimeoutBuffer = Duration(buf)
		}
		agents = append(agents, a)
	}

	previous := s.doc.Agents
	s.doc.Agents = agents
	if err := s.Save(); err != nil {
		s.doc.Agents = previous
		return 0, err
	}
	return len(agents), nil
}
