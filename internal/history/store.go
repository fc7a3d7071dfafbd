// internal/history/store.go
//
// The turn log is the durable conversation record: one JSON object per line,
// append-only except for compaction (full replace), cancellation rollback
// (pop) and explicit clear. A partial trailing line from a crash is skipped
// by the reader, so the log is always readable as a prefix.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sender identifies who produced a turn.
type Sender string

const (
	SenderUser         Sender = "user"
	SenderAgent        Sender = "agent"
	SenderAnnouncement Sender = "agent-announcement"
	SenderSystem       Sender = "system"
	SenderShell        Sender = "shell"
)

// Turn is one entry in the conversation log.
type Turn struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn builds a turn stamped with the current UTC time.
func NewTurn(sender Sender, text string) Turn {
	return Turn{Sender: sender, Text: text, Timestamp: time.Now().UTC()}
}

// Store is the append-log of turns for one project. All operations are
// serialized by an internal mutex; concurrent writers from other processes
// are unsupported.
type Store struct {
	path string

	mu      sync.Mutex
	skipped int
}

// NewStore creates a turn store backed by the given file. The parent
// directory is created on demand.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: ensure store dir: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the file backing this store.
func (s *Store) Path() string { return s.path }

// Read returns all turns in append order. Blank and malformed lines are
// skipped, not fatal; the skip count is available via SkippedLines.
func (s *Store) Read() ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *Store) readLocked() ([]Turn, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: open turn log: %w", err)
	}
	defer file.Close()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Turn
		if err := json.Unmarshal(line, &t); err != nil || t.Sender == "" {
			s.skipped++
			continue
		}
		turns = append(turns, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("history: scan turn log: %w", err)
	}
	return turns, nil
}

// SkippedLines reports how many unreadable lines Read has skipped so far.
func (s *Store) SkippedLines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Append adds one turn to the end of the log.
func (s *Store) Append(t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("history: encode turn: %w", err)
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("history: open turn log for append: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("history: append turn: %w", err)
	}
	return nil
}

// ReplaceAll atomically swaps the whole log for the given turns. Used by
// compaction; readers in this process see either the old log or the new one.
func (s *Store) ReplaceAll(turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(turns)
}

func (s *Store) replaceLocked(turns []Turn) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*")
	if err != nil {
		return fmt.Errorf("history: create temp log: %w", err)
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("history: encode turn: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("history: write temp log: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("history: flush temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("history: close temp log: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("history: swap turn log: %w", err)
	}
	return nil
}

// PopLast removes the most recent turn and returns it. Removing from an
// empty log is a no-op.
func (s *Store) PopLast() (Turn, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, err := s.readLocked()
	if err != nil {
		return Turn{}, false, err
	}
	if len(turns) == 0 {
		return Turn{}, false, nil
	}
	last := turns[len(turns)-1]
	if err := s.replaceLocked(turns[:len(turns)-1]); err != nil {
		return Turn{}, false, err
	}
	return last, true, nil
}

// Clear removes every turn.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(nil)
}
