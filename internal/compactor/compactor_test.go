package compactor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/termaite/termaite/internal/config"
	"github.com/termaite/termaite/internal/executor"
	"github.com/termaite/termaite/internal/history"
)

// newFixture wires a compactor over a real store and config. Context windows
// are 1000 and 4000 tokens, so the compaction threshold is 750.
func newFixture(t *testing.T) (*Compactor, *history.Store, *config.Store) {
	t.Helper()
	body := `{"rotationStrategy":"exhaustion","agents":[
		{"name":"small","command":"echo summarized output","contextWindowTokens":1000},
		{"name":"big","command":"echo summarized output","contextWindowTokens":4000}]}`
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	return New(store, cfg, executor.New()), store, cfg
}

// fillTurns appends n turns of exactly 100 tokens (400 chars) each.
func fillTurns(t *testing.T, store *history.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("%02d-", i) + strings.Repeat("x", 397)
		if err := store.Append(history.NewTurn(history.SenderUser, text)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNeedsCompactionThreshold(t *testing.T) {
	c, store, _ := newFixture(t)
	fillTurns(t, store, 7) // 700 tokens
	if c.NeedsCompaction(strings.Repeat("y", 40)) {
		t.Error("710 tokens should be under the 750 threshold")
	}
	fillTurns(t, store, 1) // 800 tokens
	if !c.NeedsCompaction(strings.Repeat("y", 40)) {
		t.Error("810 tokens should exceed the 750 threshold")
	}
}

func TestNeedsCompactionWithoutAgents(t *testing.T) {
	body := `{"rotationStrategy":"exhaustion","agents":[]}`
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(cfgPath, []byte(body), 0o644)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	store, _ := history.NewStore(filepath.Join(t.TempDir(), "history.jsonl"))
	c := New(store, cfg, executor.New())
	if c.NeedsCompaction(strings.Repeat("y", 100000)) {
		t.Error("no configured context window means no compaction")
	}
}

func TestCompactSummarizesOldestHalf(t *testing.T) {
	c, store, cfg := newFixture(t)
	fillTurns(t, store, 8) // 800 tokens
	agent, _ := cfg.Agent("small")

	stats, err := c.Compact(agent)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Method != "ai" {
		t.Errorf("method = %q, want ai", stats.Method)
	}
	if stats.EntriesSummarized != 4 || stats.EntriesKept != 4 {
		t.Errorf("summarized/kept = %d/%d, want 4/4", stats.EntriesSummarized, stats.EntriesKept)
	}
	if stats.TokensAfter >= stats.TokensBefore {
		t.Errorf("tokens did not shrink: %d -> %d", stats.TokensBefore, stats.TokensAfter)
	}

	turns, err := store.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 5 {
		t.Fatalf("log has %d entries, want summary + 4 kept", len(turns))
	}
	if turns[0].Sender != history.SenderSystem || !strings.Contains(turns[0].Text, "summarized output") {
		t.Errorf("first entry should be the system summary, got %q: %q", turns[0].Sender, turns[0].Text)
	}
	if !strings.Contains(turns[0].Text, "4 earlier entries") {
		t.Errorf("summary header missing counts: %q", turns[0].Text)
	}
	// The kept suffix of the old log survives verbatim.
	for i, turn := range turns[1:] {
		wantPrefix := fmt.Sprintf("%02d-", i+4)
		if !strings.HasPrefix(turn.Text, wantPrefix) {
			t.Errorf("kept turn %d = %q…, want prefix %q", i, turn.Text[:4], wantPrefix)
		}
	}
}

func TestCompactFailureLeavesLogUntouched(t *testing.T) {
	c, store, cfg := newFixture(t)
	fillTurns(t, store, 4)
	agent := config.Agent{Name: "broken", Command: "exit 2", ContextWindowTokens: 1000}
	_ = cfg // threshold irrelevant here

	if _, err := c.Compact(agent); err == nil {
		t.Fatal("expected error from failing summarizer")
	}
	turns, _ := store.Read()
	if len(turns) != 4 {
		t.Errorf("log modified on failed compaction: %d entries", len(turns))
	}

	empty := config.Agent{Name: "mute", Command: "true", ContextWindowTokens: 1000}
	if _, err := c.Compact(empty); err == nil {
		t.Fatal("expected error from empty summarizer output")
	}
}

func TestFallbackCompactKeepsRatio(t *testing.T) {
	c, store, _ := newFixture(t)
	fillTurns(t, store, 4) // 400 tokens
	stats, err := c.FallbackCompact(0.5)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Method != "fallback" {
		t.Errorf("method = %q, want fallback", stats.Method)
	}
	if stats.EntriesSummarized != 2 || stats.EntriesKept != 2 {
		t.Errorf("removed/kept = %d/%d, want 2/2", stats.EntriesSummarized, stats.EntriesKept)
	}
	turns, _ := store.Read()
	if len(turns) != 3 {
		t.Fatalf("log has %d entries, want marker + 2 kept", len(turns))
	}
	if turns[0].Sender != history.SenderSystem || !strings.Contains(turns[0].Text, "truncated") {
		t.Errorf("first entry should be the truncation marker: %+v", turns[0])
	}
}

func TestManualCompactFallsBack(t *testing.T) {
	c, store, _ := newFixture(t)
	fillTurns(t, store, 4)
	broken := config.Agent{Name: "broken", Command: "exit 1", ContextWindowTokens: 1000}
	stats, err := c.ManualCompact(broken)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Method != "fallback" {
		t.Errorf("method = %q, want fallback after ai failure", stats.Method)
	}
	turns, _ := store.Read()
	if len(turns) >= 4 {
		t.Errorf("log not shrunk: %d entries", len(turns))
	}
}
