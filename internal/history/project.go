// internal/history/project.go
//
// Every working directory gets its own conversation state under
// ~/.termaite/projects/<slug>/. The slug is derived from the absolute
// directory path so the same project always resolves to the same logs.
package history

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	historyFileName  = "history.jsonl"
	inputsFileName   = "inputs.log"
	selectorFileName = "selector.json"
	usageFileName    = "usage.sqlite"
	logFileName      = "termaite.log"
	originFileName   = "origin"
)

// Project locates the per-project state directory for one working directory.
type Project struct {
	// WorkDir is the absolute path of the directory this project tracks.
	WorkDir string

	// Dir is the state directory holding the logs for this project.
	Dir string
}

// DefaultRoot returns the per-user directory that holds all project state.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".termaite", "projects"), nil
}

// Slug converts an absolute directory path into a filesystem-safe directory
// name by replacing path separators with '-'. Distinct real paths that map to
// the same slug are caught by OpenProject's origin check.
func Slug(absPath string) string {
	cleaned := filepath.Clean(absPath)
	cleaned = strings.TrimPrefix(cleaned, string(os.PathSeparator))
	slug := strings.ReplaceAll(cleaned, string(os.PathSeparator), "-")
	if slug == "" {
		slug = "root"
	}
	return slug
}

// OpenProject resolves (creating on demand) the state directory for workDir
// under root. The first open records the originating path; a later open whose
// path differs is a slug collision and is surfaced as a fatal error rather
// than silently sharing logs between two projects.
func OpenProject(root, workDir string) (*Project, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("history: resolve project path: %w", err)
	}
	dir := filepath.Join(root, Slug(abs))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create project dir: %w", err)
	}

	originPath := filepath.Join(dir, originFileName)
	data, err := os.ReadFile(originPath)
	switch {
	case err == nil:
		recorded := strings.TrimSpace(string(data))
		if recorded != "" && recorded != abs {
			return nil, fmt.Errorf("history: project slug collision: %q and %q both map to %s", recorded, abs, dir)
		}
	case errors.Is(err, fs.ErrNotExist):
		if err := os.WriteFile(originPath, []byte(abs+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("history: record project origin: %w", err)
		}
	default:
		return nil, fmt.Errorf("history: read project origin: %w", err)
	}

	return &Project{WorkDir: abs, Dir: dir}, nil
}

// HistoryPath returns the turn log file for this project.
func (p *Project) HistoryPath() string { return filepath.Join(p.Dir, historyFileName) }

// InputsPath returns the user-input log file for this project.
func (p *Project) InputsPath() string { return filepath.Join(p.Dir, inputsFileName) }

// SelectorStatePath returns the persisted selector state file.
func (p *Project) SelectorStatePath() string { return filepath.Join(p.Dir, selectorFileName) }

// UsagePath returns the sqlite database recording execution history.
func (p *Project) UsagePath() string { return filepath.Join(p.Dir, usageFileName) }

// LogPath returns the diagnostics log file.
func (p *Project) LogPath() string { return filepath.Join(p.Dir, logFileName) }
