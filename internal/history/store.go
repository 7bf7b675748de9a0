package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Napageneral/airport/internal/logger"
	"github.com/Napageneral/airport/internal/migrate"
	"github.com/Napageneral/airport/internal/sim"
)

// ErrRunNotFound is returned by GetRun and Report for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Store is the run history database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) and migrates the history database.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One connection serializes the batch writer and run inserts.
	db.SetMaxOpenConns(1)

	applied, err := migrate.Apply(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	if len(applied) > 0 {
		logger.Component("history").Info("history schema migrated",
			zap.String("path", path), zap.Strings("versions", applied))
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) DB() *sql.DB  { return s.db }
func (s *Store) Path() string { return s.path }
func (s *Store) Close() error { return s.db.Close() }

// Run is one stored simulation run.
type Run struct {
	ID              string    `json:"id"`
	Scenario        string    `json:"scenario"`
	Seed            int64     `json:"seed"`
	Gates           int       `json:"gates"`
	Expected        int       `json:"planes_expected"`
	Departed        int       `json:"planes_departed"`
	TotalPassengers int       `json:"total_passengers"`
	MinWaitMS       int64     `json:"min_wait_ms"`
	MaxWaitMS       int64     `json:"max_wait_ms"`
	AvgWaitMS       float64   `json:"avg_wait_ms"`
	Emergencies     int       `json:"emergencies"`
	GatesEmpty      bool      `json:"gates_empty"`
	Interrupted     bool      `json:"interrupted"`
	Consistent      bool      `json:"consistent"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// SaveRun stores a finished run with its full JSON report. Saving the same
// run ID twice replaces the earlier row.
func (s *Store) SaveRun(res *sim.Result) error {
	report, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	sum := res.Summary
	var errText interface{}
	if res.Error != "" {
		errText = res.Error
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO runs (
			id, scenario, seed, gates, planes_expected, planes_departed, total_passengers,
			min_wait_ms, max_wait_ms, avg_wait_ms, emergencies, gates_empty, interrupted,
			consistent, error, started_ts, finished_ts, report_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.RunID, res.Scenario, res.Seed, res.Gates, sum.Expected, sum.PlanesServed, sum.TotalPassengers,
		sum.MinWaitMS, sum.MaxWaitMS, sum.AvgWaitMS, len(sum.Emergencies), sum.GatesEmpty, res.Interrupted,
		res.Consistent(), errText, res.StartedAt.UnixMilli(), res.FinishedAt.UnixMilli(), string(report),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", res.RunID, err)
	}
	return nil
}

const runColumns = `id, scenario, seed, gates, planes_expected, planes_departed, total_passengers,
	min_wait_ms, max_wait_ms, avg_wait_ms, emergencies, gates_empty, interrupted, consistent,
	COALESCE(error, ''), started_ts, COALESCE(finished_ts, 0)`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var started, finished int64
	err := sc.Scan(&r.ID, &r.Scenario, &r.Seed, &r.Gates, &r.Expected, &r.Departed, &r.TotalPassengers,
		&r.MinWaitMS, &r.MaxWaitMS, &r.AvgWaitMS, &r.Emergencies, &r.GatesEmpty, &r.Interrupted, &r.Consistent,
		&r.Error, &started, &finished)
	if err != nil {
		return r, err
	}
	r.StartedAt = time.UnixMilli(started)
	if finished > 0 {
		r.FinishedAt = time.UnixMilli(finished)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	q := "SELECT " + runColumns + " FROM runs ORDER BY started_ts DESC, id"
	var args []interface{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// Report returns the JSON report stored with a run.
func (s *Store) Report(id string) (json.RawMessage, error) {
	var report sql.NullString
	err := s.db.QueryRow("SELECT report_json FROM runs WHERE id = ?", id).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	if !report.Valid {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(report.String), nil
}

// Event is one persisted plane event.
type Event struct {
	Plane  string    `json:"plane"`
	Kind   string    `json:"kind"`
	State  string    `json:"state,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Value  int64     `json:"value,omitempty"`
	At     time.Time `json:"at"`
}

// Events returns the events of a run in recording order.
func (s *Store) Events(runID string) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT plane, kind, COALESCE(state, ''), COALESCE(detail, ''), COALESCE(value, 0), ts
		FROM plane_events
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.Plane, &e.Kind, &e.State, &e.Detail, &e.Value, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.At = time.UnixMilli(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}
