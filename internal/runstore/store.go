// Package runstore keeps the history of orchestrator runs in SQLite.
package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/gba/internal/domain"
)

// Run statuses
const (
	StatusRunning     = "running"
	StatusFinished    = "finished"
	StatusAborted     = "aborted"
	StatusInterrupted = "interrupted"
)

// ErrRunNotFound is returned for unknown run IDs
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded invocation of the pipeline
type Run struct {
	ID         string     `json:"id"`
	Slug       string     `json:"slug"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	TotalTurns uint32     `json:"totalTurns"`
	PR         string     `json:"pr,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// EventRecord is one stored event of a run
type EventRecord struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store provides SQLite-backed run persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (and migrates) the database at dbPath. ":memory:" is accepted.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases intact and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a new running run of slug
func (s *Store) StartRun(slug string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Slug:      slug,
		Status:    StatusRunning,
		StartedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	_, err := s.db.Exec(`INSERT INTO runs (id, slug, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Slug, run.Status, run.StartedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	return run, nil
}

// RecordEvent appends e to the run's event log. Terminal events and pull
// request events also update the run row.
func (s *Store) RecordEvent(runID string, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	now := s.now().UTC().UnixMilli()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE run_id = ?`, runID).Scan(&seq); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO events (run_id, seq, type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, seq, e.EventType(), string(payload), now); err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	switch ev := e.(type) {
	case domain.ChangeRequestCreated:
		_, err = tx.Exec(`UPDATE runs SET pr = ? WHERE id = ?`, ev.URL, runID)
	case domain.Finished:
		_, err = tx.Exec(`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`, StatusFinished, now, runID)
	case domain.ErrorEvent:
		if ev.Fatal {
			_, err = tx.Exec(`UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
				StatusAborted, now, ev.Detail, runID)
		}
	}
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return tx.Commit()
}

// Complete stores the turn total of a run. A run that never saw a terminal
// event is marked interrupted.
func (s *Store) Complete(runID string, totalTurns uint32) error {
	now := s.now().UTC().UnixMilli()
	res, err := s.db.Exec(`
		UPDATE runs SET
			total_turns = ?,
			status = CASE WHEN status = ? THEN ? ELSE status END,
			finished_at = COALESCE(finished_at, ?)
		WHERE id = ?
	`, totalTurns, StatusRunning, StatusInterrupted, now, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, slug, status, started_at, finished_at, total_turns, pr, error
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Slug  string
	Limit int
}

// ListRuns returns runs matching opts, newest first
func (s *Store) ListRuns(opts ListOptions) ([]*Run, error) {
	query := `SELECT id, slug, status, started_at, finished_at, total_turns, pr, error FROM runs WHERE 1=1`
	var args []interface{}

	if opts.Slug != "" {
		query += " AND slug = ?"
		args = append(args, opts.Slug)
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Events returns the event log of a run in emission order
func (s *Store) Events(runID string) ([]EventRecord, error) {
	rows, err := s.db.Query(`SELECT seq, type, payload, created_at FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var rec EventRecord
		var payload string
		var created int64
		if err := rows.Scan(&rec.Seq, &rec.Type, &payload, &created); err != nil {
			return nil, err
		}
		rec.Payload = json.RawMessage(payload)
		rec.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, rec)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var started int64
	var finished sql.NullInt64
	var pr, errMsg sql.NullString

	if err := row.Scan(&run.ID, &run.Slug, &run.Status, &started, &finished, &run.TotalTurns, &pr, &errMsg); err != nil {
		return nil, err
	}

	run.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		run.FinishedAt = &t
	}
	run.PR = pr.String
	run.Error = errMsg.String
	return &run, nil
}
