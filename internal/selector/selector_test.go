package selector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/termaite/termaite/internal/config"
	"github.com/termaite/termaite/internal/cooldown"
)

func newTestConfig(t *testing.T, strategy string) *config.Store {
	t.Helper()
	body := `{"rotationStrategy":"` + strategy + `","agents":[
		{"name":"a","command":"run-a","contextWindowTokens":1000},
		{"name":"b","command":"run-b","contextWindowTokens":1000},
		{"name":"c","command":"run-c","contextWindowTokens":1000}]}`
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func newTestSelector(t *testing.T, strategy string, opts ...Option) (*Selector, *cooldown.Tracker, string) {
	t.Helper()
	cfg := newTestConfig(t, strategy)
	tracker := cooldown.New()
	statePath := filepath.Join(t.TempDir(), "selector.json")
	s, err := New(cfg, tracker, statePath, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s, tracker, statePath
}

func names(agents []config.Agent) []string {
	var out []string
	for _, a := range agents {
		out = append(out, a.Name)
	}
	return out
}

func TestRoundRobinCyclesInOrder(t *testing.T) {
	s, _, _ := newTestSelector(t, "round-robin")
	var got []string
	for i := 0; i < 3; i++ {
		a, ok := s.SelectNext()
		if !ok {
			t.Fatalf("selection %d returned no agent", i)
		}
		got = append(got, a.Name)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selection order = %v, want %v", got, want)
		}
	}
	// After a full cycle the cursor is back at the start.
	a, _ := s.PeekNext()
	if a.Name != "a" {
		t.Errorf("after full cycle, next = %q, want a", a.Name)
	}
}

func TestRoundRobinSkipsUnavailable(t *testing.T) {
	s, tracker, _ := newTestSelector(t, "round-robin")
	tracker.RecordFailure("a")
	a, ok := s.SelectNext()
	if !ok || a.Name != "b" {
		t.Fatalf("got %q, want b (a is cooling down)", a.Name)
	}
	a, _ = s.SelectNext()
	if a.Name != "c" {
		t.Errorf("got %q, want c", a.Name)
	}
}

func TestExhaustionPrefersConfiguredOrder(t *testing.T) {
	s, tracker, _ := newTestSelector(t, "exhaustion")
	for i := 0; i < 3; i++ {
		a, ok := s.SelectNext()
		if !ok || a.Name != "a" {
			t.Fatalf("exhaustion must keep returning a while eligible, got %q", a.Name)
		}
	}
	tracker.RecordFailure("a")
	a, ok := s.SelectNext()
	if !ok || a.Name != "b" {
		t.Fatalf("got %q, want b after a became unavailable", a.Name)
	}
}

func TestRandomPicksFromEligiblePool(t *testing.T) {
	s, tracker, _ := newTestSelector(t, "random", WithRand(func(n int) int { return n - 1 }))
	a, ok := s.SelectNext()
	if !ok || a.Name != "c" {
		t.Fatalf("got %q, want c (last of pool)", a.Name)
	}
	tracker.RecordFailure("c")
	a, _ = s.SelectNext()
	if a.Name != "b" {
		t.Errorf("got %q, want b once c is cooling down", a.Name)
	}
}

func TestRandomPeekMatchesFollowingSelect(t *testing.T) {
	rolls := 0
	s, tracker, _ := newTestSelector(t, "random", WithRand(func(n int) int {
		rolls++
		return rolls % n
	}))
	peeked, ok := s.PeekNext()
	if !ok {
		t.Fatal("peek returned no agent")
	}
	for i := 0; i < 3; i++ {
		if a, _ := s.PeekNext(); a.Name != peeked.Name {
			t.Fatalf("repeated peek %d = %q, want %q", i, a.Name, peeked.Name)
		}
	}
	selected, ok := s.SelectNext()
	if !ok || selected.Name != peeked.Name {
		t.Fatalf("selected %q, but peek promised %q", selected.Name, peeked.Name)
	}
	if rolls != 1 {
		t.Errorf("rng rolled %d times across peeks and select, want 1", rolls)
	}

	// A held pick that went into cooldown is re-rolled from the remaining pool.
	held, _ := s.PeekNext()
	tracker.RecordFailure(held.Name)
	a, ok := s.SelectNext()
	if !ok || a.Name == held.Name {
		t.Fatalf("selected %q, which is cooling down", a.Name)
	}
}

func TestManualPinAndFallback(t *testing.T) {
	s, tracker, _ := newTestSelector(t, "manual")
	if err := s.SelectAgent("b", false); err != nil {
		t.Fatal(err)
	}
	a, ok := s.SelectNext()
	if !ok || a.Name != "b" {
		t.Fatalf("got %q, want pinned b", a.Name)
	}
	tracker.RecordFailure("b")
	a, ok = s.SelectNext()
	if !ok || a.Name != "a" {
		t.Fatalf("got %q, want first eligible a when pin unavailable", a.Name)
	}
}

func TestTemporaryAgentIsConsumedOnce(t *testing.T) {
	s, _, _ := newTestSelector(t, "exhaustion")
	if err := s.SelectAgent("c", true); err != nil {
		t.Fatal(err)
	}
	a, _ := s.SelectNext()
	if a.Name != "c" {
		t.Fatalf("got %q, want temporary c", a.Name)
	}
	a, _ = s.SelectNext()
	if a.Name != "a" {
		t.Errorf("got %q, want a after temporary consumed", a.Name)
	}
}

func TestTemporaryAgentDoesNotSurviveReload(t *testing.T) {
	cfg := newTestConfig(t, "exhaustion")
	tracker := cooldown.New()
	statePath := filepath.Join(t.TempDir(), "selector.json")
	s, err := New(cfg, tracker, statePath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SelectAgent("c", true); err != nil {
		t.Fatal(err)
	}

	// A temporary selection is in-memory only: a fresh selector over the
	// same state file follows its strategy as if it never happened.
	reloaded, err := New(cfg, tracker, statePath)
	if err != nil {
		t.Fatal(err)
	}
	if a, ok := reloaded.SelectNext(); !ok || a.Name != "a" {
		t.Errorf("reloaded selector returned %q, want a", a.Name)
	}
}

func TestSelectAgentRejectsUnknownName(t *testing.T) {
	s, _, _ := newTestSelector(t, "exhaustion")
	if err := s.SelectAgent("nope", false); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	s, _, _ := newTestSelector(t, "round-robin")
	s.SelectAgent("b", true)
	for i := 0; i < 3; i++ {
		a, ok := s.PeekNext()
		if !ok || a.Name != "b" {
			t.Fatalf("peek %d = %q, want temporary b every time", i, a.Name)
		}
	}
	a, _ := s.SelectNext()
	if a.Name != "b" {
		t.Errorf("select after peeks = %q, want b", a.Name)
	}
}

func TestSelectAlternativesExcludesFailedAgent(t *testing.T) {
	s, tracker, _ := newTestSelector(t, "exhaustion")
	tracker.RecordFailure("c")
	got := names(s.SelectAlternatives("a"))
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("alternatives = %v, want [b]", got)
	}
}

func TestCursorPersistsAcrossInstances(t *testing.T) {
	cfg := newTestConfig(t, "round-robin")
	tracker := cooldown.New()
	statePath := filepath.Join(t.TempDir(), "selector.json")
	s, err := New(cfg, tracker, statePath)
	if err != nil {
		t.Fatal(err)
	}
	if a, _ := s.SelectNext(); a.Name != "a" {
		t.Fatalf("first selection should be a, got %q", a.Name)
	}

	reloaded, err := New(cfg, tracker, statePath)
	if err != nil {
		t.Fatal(err)
	}
	if a, _ := reloaded.SelectNext(); a.Name != "b" {
		t.Errorf("reloaded selector should resume at b, got %q", a.Name)
	}
}

func TestSelectionNeverReturnsUnavailableAgent(t *testing.T) {
	cfg := newTestConfig(t, "round-robin")
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := cooldown.New(
		cooldown.WithClock(func() time.Time { return clock }),
		cooldown.WithBufferFunc(func(string) time.Duration { return time.Minute }),
	)
	s, err := New(cfg, tracker, filepath.Join(t.TempDir(), "selector.json"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		a, ok := s.SelectNext()
		if !ok {
			break
		}
		if tracker.IsUnavailable(a.Name) {
			t.Fatalf("selected unavailable agent %q", a.Name)
		}
		tracker.MarkUsed(a.Name)
	}
	// All three are now inside their throttle buffers.
	if _, ok := s.SelectNext(); ok {
		t.Error("expected no eligible agent once all are throttled")
	}
}
