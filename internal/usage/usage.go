// internal/usage/usage.go
//
// Every agent invocation is recorded in a per-project sqlite database so
// `termaite stats` can show which agents actually carry the load. Recording
// is best-effort: a nil *Recorder drops writes, and the coordinator treats
// usage errors as diagnostics, never as turn failures.
package usage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id            TEXT PRIMARY KEY,
	agent         TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	exit_code     INTEGER NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS executions_agent ON executions (agent);
`

// Record is one execution row.
type Record struct {
	ID           string
	Agent        string
	Outcome      string
	ExitCode     int
	Duration     time.Duration
	PromptTokens int
	OutputTokens int
	CreatedAt    time.Time
}

// Totals aggregates one agent's recorded executions.
type Totals struct {
	Agent       string
	Runs        int
	Successes   int
	Failures    int
	AvgDuration time.Duration
	LastRun     time.Time
}

// Recorder writes execution history to sqlite.
type Recorder struct {
	db *sql.DB
}

// Open creates (or reuses) the database at path and ensures the schema.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: ensure schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close releases the database handle.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Add inserts one execution record.
func (r *Recorder) Add(rec Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.db.Exec(
		`INSERT INTO executions (id, agent, outcome, exit_code, duration_ms, prompt_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Agent, rec.Outcome, rec.ExitCode, rec.Duration.Milliseconds(),
		rec.PromptTokens, rec.OutputTokens, created.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("usage: insert execution: %w", err)
	}
	return nil
}

// PerAgent returns aggregate totals grouped by agent, sorted by name.
// Cancelled runs count toward Runs but neither Successes nor Failures.
func (r *Recorder) PerAgent() ([]Totals, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	rows, err := r.db.Query(`
		SELECT agent,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN outcome NOT IN ('success', 'cancelled') THEN 1 ELSE 0 END),
		       COALESCE(AVG(duration_ms), 0),
		       COALESCE(MAX(created_at), '')
		FROM executions
		GROUP BY agent
		ORDER BY agent`)
	if err != nil {
		return nil, fmt.Errorf("usage: query totals: %w", err)
	}
	defer rows.Close()

	var out []Totals
	for rows.Next() {
		var t Totals
		var avgMS float64
		var last string
		if err := rows.Scan(&t.Agent, &t.Runs, &t.Successes, &t.Failures, &avgMS, &last); err != nil {
			return nil, fmt.Errorf("usage: scan totals: %w", err)
		}
		t.AvgDuration = time.Duration(avgMS) * time.Millisecond
		if last != "" {
			if parsed, err := time.Parse(time.RFC3339, last); err == nil {
				t.LastRun = parsed
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage: iterate totals: %w", err)
	}
	return out, nil
}
