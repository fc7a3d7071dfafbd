// internal/tui/theme.go
//
// Colors are overridable through an optional TOML file so the chat view can
// match the user's terminal setup. A missing file means defaults; a broken
// file is an error so typos do not silently fall back.
package tui

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// Theme holds the lipgloss color values used by the chat view.
type Theme struct {
	UserColor   string `toml:"user_color"`
	AgentColor  string `toml:"agent_color"`
	SystemColor string `toml:"system_color"`
	ErrorColor  string `toml:"error_color"`
	StatusColor string `toml:"status_color"`
	AccentColor string `toml:"accent_color"`
}

// DefaultTheme returns the built-in palette.
func DefaultTheme() Theme {
	return Theme{
		UserColor:   "6",   // cyan
		AgentColor:  "10",  // green
		SystemColor: "8",   // gray
		ErrorColor:  "9",   // red
		StatusColor: "8",   // gray
		AccentColor: "13",  // magenta
	}
}

// LoadTheme reads the theme file at path, filling unset fields from the
// defaults. A missing file yields the defaults.
func LoadTheme(path string) (Theme, error) {
	theme := DefaultTheme()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return theme, nil
		}
		return theme, fmt.Errorf("tui: read theme: %w", err)
	}
	var overrides Theme
	if err := toml.Unmarshal(data, &overrides); err != nil {
		return theme, fmt.Errorf("tui: parse theme %s: %w", path, err)
	}
	merge := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	merge(&theme.UserColor, overrides.UserColor)
	merge(&theme.AgentColor, overrides.AgentColor)
	merge(&theme.SystemColor, overrides.SystemColor)
	merge(&theme.ErrorColor, overrides.ErrorColor)
	merge(&theme.StatusColor, overrides.StatusColor)
	merge(&theme.AccentColor, overrides.AccentColor)
	return theme, nil
}
