package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"cs4/internal/llm"
)

// RunStore records pipeline runs and every provider attempt made during them
// in a SQLite database. It implements llm.AttemptSink.
type RunStore struct {
	db    *sql.DB
	mu    sync.Mutex
	runID string
}

// NewRunStore opens (creating if needed) the run database at path and starts
// a new run row identified by a fresh UUID.
func NewRunStore(path string) (*RunStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run database: %w", err)
	}

	s := &RunStore{db: db, runID: uuid.NewString()}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.beginRun(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RunStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		record_id TEXT,
		stage TEXT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_record ON attempts(record_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_stage ON attempts(stage);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize run database: %w", err)
	}
	return nil
}

func (s *RunStore) beginRun() error {
	_, err := s.db.Exec(`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		s.runID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// RunID returns the identifier of the current run.
func (s *RunStore) RunID() string { return s.runID }

// RecordAttempt persists one gateway attempt. Persistence failures are
// swallowed; a broken run database must never fail a provider call.
func (s *RunStore) RecordAttempt(a llm.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errText string
	if a.Err != nil {
		errText = a.Err.Error()
	}
	_, _ = s.db.Exec(`
		INSERT INTO attempts (run_id, record_id, stage, provider, model, input_tokens, output_tokens, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, a.RecordID, a.Stage, a.Provider, a.Model,
		a.Usage.Input, a.Usage.Output, a.Duration.Milliseconds(), errText)
}

// AttemptSummary aggregates attempts for one stage of one run.
type AttemptSummary struct {
	Stage    string
	Attempts int
	Failed   int
	Input    int
	Output   int
}

// Summarize aggregates the current run's attempts per stage.
func (s *RunStore) Summarize() ([]AttemptSummary, error) {
	rows, err := s.db.Query(`
		SELECT stage,
		       COUNT(*),
		       SUM(CASE WHEN error != '' THEN 1 ELSE 0 END),
		       SUM(input_tokens),
		       SUM(output_tokens)
		FROM attempts
		WHERE run_id = ?
		GROUP BY stage
		ORDER BY stage`, s.runID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptSummary
	for rows.Next() {
		var sum AttemptSummary
		if err := rows.Scan(&sum.Stage, &sum.Attempts, &sum.Failed, &sum.Input, &sum.Output); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close marks the run finished and closes the database.
func (s *RunStore) Close() error {
	_, err := s.db.Exec(`UPDATE runs SET finished_at = ? WHERE id = ?`,
		time.Now().UTC(), s.runID)
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}
