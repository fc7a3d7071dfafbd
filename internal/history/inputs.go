package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// InputLog records every submitted user line, one literal line per entry.
// It exists to back up/down recall in interactive clients and is otherwise
// independent of the turn log.
type InputLog struct {
	path string
	mu   sync.Mutex
}

// NewInputLog creates an input log backed by the given file.
func NewInputLog(path string) (*InputLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: ensure input log dir: %w", err)
	}
	return &InputLog{path: path}, nil
}

// Append records one submitted input. Embedded newlines are flattened so the
// entry stays a single line.
func (l *InputLog) Append(input string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := strings.ReplaceAll(input, "\n", " ")
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("history: open input log: %w", err)
	}
	defer file.Close()
	if _, err := file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("history: append input: %w", err)
	}
	return nil
}

// Read returns all recorded inputs, oldest first. Blank lines are skipped.
func (l *InputLog) Read() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: open input log: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("history: scan input log: %w", err)
	}
	return lines, nil
}

// Clear removes all recorded inputs.
func (l *InputLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("history: clear input log: %w", err)
	}
	return nil
}
