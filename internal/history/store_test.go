package history

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAppendThenReadPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	texts := []string{"one", "two", "three"}
	for _, txt := range texts {
		if err := s.Append(NewTurn(SenderUser, txt)); err != nil {
			t.Fatal(err)
		}
	}
	turns, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != len(texts) {
		t.Fatalf("read %d turns, want %d", len(turns), len(texts))
	}
	for i, txt := range texts {
		if turns[i].Text != txt {
			t.Errorf("turn %d text = %q, want %q", i, turns[i].Text, txt)
		}
		if turns[i].Sender != SenderUser {
			t.Errorf("turn %d sender = %q, want user", i, turns[i].Sender)
		}
	}
}

func TestReadSkipsMalformedLines(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append(NewTurn(SenderUser, "ok")); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(s.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("\n{not json\n{\"text\":\"no sender\"}\n")
	f.Close()
	if err := s.Append(NewTurn(SenderAgent, "reply")); err != nil {
		t.Fatal(err)
	}

	turns, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("read %d turns, want 2", len(turns))
	}
	if turns[1].Text != "reply" {
		t.Errorf("last turn = %q, want reply", turns[1].Text)
	}
	if s.SkippedLines() != 2 {
		t.Errorf("skipped = %d, want 2", s.SkippedLines())
	}
}

func TestReplaceAllSwapsContents(t *testing.T) {
	s := newTestStore(t)
	s.Append(NewTurn(SenderUser, "old"))
	replacement := []Turn{
		NewTurn(SenderSystem, "summary"),
		NewTurn(SenderAgent, "kept"),
	}
	if err := s.ReplaceAll(replacement); err != nil {
		t.Fatal(err)
	}
	turns, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].Text != "summary" || turns[1].Text != "kept" {
		t.Fatalf("unexpected turns after replace: %+v", turns)
	}
}

func TestPopLast(t *testing.T) {
	s := newTestStore(t)
	s.Append(NewTurn(SenderUser, "keep"))
	s.Append(NewTurn(SenderAnnouncement, "drop"))

	popped, ok, err := s.PopLast()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || popped.Text != "drop" {
		t.Fatalf("popped = %+v ok=%v, want drop", popped, ok)
	}
	turns, _ := s.Read()
	if len(turns) != 1 || turns[0].Text != "keep" {
		t.Fatalf("unexpected remainder: %+v", turns)
	}

	s.Clear()
	if _, ok, _ := s.PopLast(); ok {
		t.Error("PopLast on empty log reported ok")
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"/home/user/project": "home-user-project",
		"/":                  "root",
		"/a/b/":              "a-b",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenProjectDetectsCollision(t *testing.T) {
	root := t.TempDir()
	work := t.TempDir()
	p, err := OpenProject(root, work)
	if err != nil {
		t.Fatal(err)
	}
	// Reopening the same path is fine.
	if _, err := OpenProject(root, work); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	// A different origin recorded under the same slug directory is fatal.
	originPath := filepath.Join(p.Dir, "origin")
	if err := os.WriteFile(originPath, []byte("/somewhere/else\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenProject(root, work); err == nil {
		t.Fatal("expected slug collision error")
	}
}

func TestInputLogRoundTrip(t *testing.T) {
	l, err := NewInputLog(filepath.Join(t.TempDir(), "inputs.log"))
	if err != nil {
		t.Fatal(err)
	}
	l.Append("first")
	l.Append("second\nwith newline")
	lines, err := l.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second with newline" {
		t.Fatalf("unexpected lines: %q", lines)
	}
	if err := l.Clear(); err != nil {
		t.Fatal(err)
	}
	lines, _ = l.Read()
	if len(lines) != 0 {
		t.Fatalf("expected empty after clear, got %q", lines)
	}
}
