package tui

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/termaite/termaite/internal/session"
)

func TestFormatAgentStatus(t *testing.T) {
	cases := []struct {
		status session.AgentStatus
		want   string
	}{
		{session.AgentStatus{Name: "a", Enabled: true}, "a"},
		{session.AgentStatus{Name: "a", Enabled: false}, "a (off)"},
		{session.AgentStatus{Name: "a", Enabled: true, RemainingCooldown: 90 * time.Second}, "a (cooldown 1m30s)"},
		{session.AgentStatus{Name: "a", Enabled: true, RemainingThrottle: 10 * time.Second}, "a (throttle 10s)"},
		{session.AgentStatus{Name: "a", Enabled: true, Pinned: true}, "a (pinned)"},
	}
	for _, tc := range cases {
		if got := formatAgentStatus(tc.status); got != tc.want {
			t.Errorf("formatAgentStatus(%+v) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestLoadThemeMissingFileUsesDefaults(t *testing.T) {
	theme, err := LoadTheme(filepath.Join(t.TempDir(), "theme.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if theme != DefaultTheme() {
		t.Errorf("theme = %+v, want defaults", theme)
	}
}

func TestLoadThemeMergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "theme.toml")
	if err := os.WriteFile(path, []byte("agent_color = \"#00ff00\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	theme, err := LoadTheme(path)
	if err != nil {
		t.Fatal(err)
	}
	if theme.AgentColor != "#00ff00" {
		t.Errorf("agent color = %q, want override", theme.AgentColor)
	}
	if theme.UserColor != DefaultTheme().UserColor {
		t.Errorf("user color = %q, want default", theme.UserColor)
	}
}

func TestLoadThemeRejectsBadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "theme.toml")
	os.WriteFile(path, []byte("agent_color = [broken"), 0o644)
	if _, err := LoadTheme(path); err == nil {
		t.Error("expected parse error")
	}
}
