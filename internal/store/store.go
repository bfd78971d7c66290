// Package store persists traffic runs and validation batches in SQLite so a
// long stress session can be reviewed after the fact.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/studiowebux/agentstress/internal/migrations"
	"github.com/studiowebux/agentstress/internal/traffic"
	"github.com/studiowebux/agentstress/internal/validate"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Run is one traffic job record
type Run struct {
	ID            int64
	Iteration     int
	Protocol      string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Status        string
	Sent          int
	Succeeded     int
	Failed        int
	Targets       []string
	AvgDurationMs float64
	MinDurationMs int64
	MaxDurationMs int64
	P50DurationMs int64
	P95DurationMs int64
	P99DurationMs int64
}

// Batch is one validation batch record
type Batch struct {
	ID           string
	Iteration    int
	StartedAt    time.Time
	Elapsed      time.Duration
	Rounds       int
	Cancelled    bool
	Passed       bool
	TotalTargets int
}

// Result is one persisted validation target
type Result struct {
	ID       int64
	BatchID  string
	Process  string
	URL      string
	Host     string
	Verified bool
	Basis    string
	Issuer   string
}

// Manager handles run and validation persistence
type Manager struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and applies migrations
func Open(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; :memory: databases are also per-connection
	db.SetMaxOpenConns(1)

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Manager{db: db}, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// NewRun builds a running record for a job about to start
func NewRun(iteration int, p traffic.Protocol) *Run {
	return &Run{
		Iteration: iteration,
		Protocol:  p.String(),
		StartedAt: time.Now(),
		Status:    StatusRunning,
	}
}

// Finish copies a dispatcher report into the run. A nil report with err marks
// the run failed.
func (r *Run) Finish(rep *traffic.Report, err error) {
	now := time.Now()
	r.CompletedAt = &now
	if rep == nil {
		r.Status = StatusFailed
		return
	}

	r.Status = StatusCompleted
	if rep.Cancelled {
		r.Status = StatusCancelled
	}
	if err != nil {
		r.Status = StatusFailed
	}
	r.Sent = rep.Sent
	r.Succeeded = rep.Succeeded
	r.Failed = rep.Failed
	r.Targets = rep.Targets

	if s := rep.Stats; s != nil {
		r.AvgDurationMs = s.AvgMs()
		r.MinDurationMs = s.MinMs()
		r.MaxDurationMs = s.MaxMs()
		r.P50DurationMs = s.P50()
		r.P95DurationMs = s.P95()
		r.P99DurationMs = s.P99()
	}
}

// CreateRun inserts a run and sets its ID
func (m *Manager) CreateRun(run *Run) error {
	result, err := m.db.Exec(`
		INSERT INTO traffic_runs (iteration, protocol, started_at, status)
		VALUES (?, ?, ?, ?)
	`, run.Iteration, run.Protocol, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun writes the outcome of a run
func (m *Manager) UpdateRun(run *Run) error {
	targets, err := json.Marshal(run.Targets)
	if err != nil {
		return fmt.Errorf("failed to encode targets: %w", err)
	}

	_, err = m.db.Exec(`
		UPDATE traffic_runs
		SET completed_at = ?, status = ?, units_sent = ?, units_succeeded = ?, units_failed = ?, targets = ?,
		    avg_duration_ms = ?, min_duration_ms = ?, max_duration_ms = ?,
		    p50_duration_ms = ?, p95_duration_ms = ?, p99_duration_ms = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.Sent, run.Succeeded, run.Failed, string(targets),
		run.AvgDurationMs, run.MinDurationMs, run.MaxDurationMs,
		run.P50DurationMs, run.P95DurationMs, run.P99DurationMs, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id int64) (*Run, error) {
	row := m.db.QueryRow(runColumns+` FROM traffic_runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs first, optionally filtered by protocol
func (m *Manager) ListRuns(protocol string, limit int) ([]*Run, error) {
	query := runColumns + `
		FROM traffic_runs
		WHERE protocol = ? OR ? = ''
		ORDER BY started_at DESC, id DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query, protocol, protocol)
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

const runColumns = `
	SELECT id, iteration, protocol, started_at, completed_at, status,
	       units_sent, units_succeeded, units_failed, COALESCE(targets, ''),
	       COALESCE(avg_duration_ms, 0), COALESCE(min_duration_ms, 0), COALESCE(max_duration_ms, 0),
	       COALESCE(p50_duration_ms, 0), COALESCE(p95_duration_ms, 0), COALESCE(p99_duration_ms, 0)`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime
	var targets string

	err := s.Scan(&run.ID, &run.Iteration, &run.Protocol, &run.StartedAt, &completedAt, &run.Status,
		&run.Sent, &run.Succeeded, &run.Failed, &targets,
		&run.AvgDurationMs, &run.MinDurationMs, &run.MaxDurationMs,
		&run.P50DurationMs, &run.P95DurationMs, &run.P99DurationMs)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if targets != "" {
		if err := json.Unmarshal([]byte(targets), &run.Targets); err != nil {
			return nil, fmt.Errorf("failed to decode targets of run %d: %w", run.ID, err)
		}
	}
	return run, nil
}

// SaveBatch stores a validation batch and all of its targets in one transaction
func (m *Manager) SaveBatch(iteration int, res *validate.BatchResult) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO validation_batches (id, iteration, started_at, elapsed_ms, rounds, cancelled, passed, total_targets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, res.ID, iteration, res.StartedAt, res.Elapsed.Milliseconds(), res.Rounds, res.Cancelled, res.Passed, len(res.Targets))
	if err != nil {
		return fmt.Errorf("failed to insert batch %s: %w", res.ID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO validation_results (batch_id, process, url, host, verified, basis, issuer)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range res.Targets {
		if _, err := stmt.Exec(res.ID, t.Process, t.URL, t.Host, t.Verified, string(t.Basis), t.Issuer); err != nil {
			return fmt.Errorf("failed to insert result: %w", err)
		}
	}

	return tx.Commit()
}

// ListBatches returns the most recent validation batches first
func (m *Manager) ListBatches(limit int) ([]*Batch, error) {
	query := `
		SELECT id, iteration, started_at, elapsed_ms, rounds, cancelled, passed, total_targets
		FROM validation_batches
		ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b := &Batch{}
		var elapsedMs int64
		if err := rows.Scan(&b.ID, &b.Iteration, &b.StartedAt, &elapsedMs, &b.Rounds,
			&b.Cancelled, &b.Passed, &b.TotalTargets); err != nil {
			return nil, err
		}
		b.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetBatchResults returns the targets of one batch in insertion order
func (m *Manager) GetBatchResults(batchID string) ([]*Result, error) {
	rows, err := m.db.Query(resultColumns+`
		FROM validation_results
		WHERE batch_id = ?
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, err
	}
	return scanResults(rows)
}

// ListFailedResults returns unverified targets across all batches, newest first
func (m *Manager) ListFailedResults(limit int) ([]*Result, error) {
	query := resultColumns + `
		FROM validation_results
		WHERE verified = 0
		ORDER BY id DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, err
	}
	return scanResults(rows)
}

const resultColumns = `SELECT id, batch_id, process, url, host, verified, basis, COALESCE(issuer, '')`

func scanResults(rows *sql.Rows) ([]*Result, error) {
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		r := &Result{}
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Process, &r.URL, &r.Host, &r.Verified, &r.Basis, &r.Issuer); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
