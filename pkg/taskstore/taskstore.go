// ///////////////////////////////////////////////////////////////////////////
//
// # recon - Dataset Reconciliation Engine
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package taskstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pgedge/recon/pkg/types"
)

const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS recon_runs (
    run_id       TEXT PRIMARY KEY,
    engine       TEXT NOT NULL,
    run_status   TEXT NOT NULL,
    source       TEXT NOT NULL,
    target       TEXT NOT NULL,
    rules        TEXT,
    summary      TEXT,
    error        TEXT,
    report_path  TEXT,
    started_at   TEXT,
    finished_at  TEXT,
    time_taken   REAL
);`

var ErrNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
}

// Record is one reconciliation run. Summary is only set once the run has
// completed.
type Record struct {
	RunID      string
	Engine     string
	Status     string
	Source     string
	Target     string
	Rules      string
	Summary    *types.Summary
	Error      string
	ReportPath string
	StartedAt  time.Time
	FinishedAt time.Time
	TimeTaken  float64
}

// Recorder writes run history when a store is available and is a no-op
// otherwise.
type Recorder struct {
	store     *Store
	ownsStore bool
	created   bool
}

func NewRecorder(existing *Store, path string) (*Recorder, error) {
	if existing != nil {
		return &Recorder{store: existing}, nil
	}
	store, err := New(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{store: store, ownsStore: true}, nil
}

func (r *Recorder) HasStore() bool {
	return r != nil && r.store != nil
}

func (r *Recorder) Created() bool {
	return r != nil && r.created
}

func (r *Recorder) Create(rec Record) error {
	if !r.HasStore() {
		return nil
	}
	if err := r.store.Create(rec); err != nil {
		return err
	}
	r.created = true
	return nil
}

func (r *Recorder) Update(rec Record) error {
	if !r.HasStore() || !r.created {
		return nil
	}
	return r.store.Update(rec)
}

func (r *Recorder) Close() error {
	if r == nil || !r.ownsStore || r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

func New(path string) (*Store, error) {
	sqlitePath := resolvePath(path)
	if err := ensureDir(sqlitePath); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `run_id, engine, run_status, source, target, rules, summary, error,
                report_path, started_at, finished_at, time_taken`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec        Record
		rules      sql.NullString
		summary    sql.NullString
		errText    sql.NullString
		reportPath sql.NullString
		startedAt  sql.NullString
		finishedAt sql.NullString
		timeTaken  sql.NullFloat64
	)
	if err := row.Scan(
		&rec.RunID,
		&rec.Engine,
		&rec.Status,
		&rec.Source,
		&rec.Target,
		&rules,
		&summary,
		&errText,
		&reportPath,
		&startedAt,
		&finishedAt,
		&timeTaken,
	); err != nil {
		return Record{}, err
	}

	rec.Rules = rules.String
	rec.Error = errText.String
	rec.ReportPath = reportPath.String
	rec.TimeTaken = timeTaken.Float64
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			rec.StartedAt = t
		}
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			rec.FinishedAt = t
		}
	}
	if summary.Valid && strings.TrimSpace(summary.String) != "" {
		var s types.Summary
		if err := json.Unmarshal([]byte(summary.String), &s); err == nil {
			rec.Summary = &s
		}
	}
	return rec, nil
}

func (s *Store) Get(runID string) (Record, error) {
	if strings.TrimSpace(runID) == "" {
		return Record{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM recon_runs WHERE run_id = ?`, runID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("fetch run %s: %w", runID, err)
	}
	return rec, nil
}

// List returns the most recent runs first. A limit of zero or less returns
// every run.
func (s *Store) List(limit int) ([]Record, error) {
	query := `SELECT ` + selectColumns + ` FROM recon_runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Create inserts a run. Creating a run id that already exists moves it to
// the new status, so a run registered as pending can be started later.
func (s *Store) Create(rec Record) error {
	if err := rec.validateForCreate(); err != nil {
		return err
	}
	summary, err := rec.summaryValue()
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO recon_runs (
            run_id, engine, run_status, source, target, rules, summary, error,
            report_path, started_at, finished_at, time_taken
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(run_id) DO UPDATE SET
            engine = excluded.engine,
            run_status = excluded.run_status,
            started_at = COALESCE(excluded.started_at, recon_runs.started_at)`,
		rec.RunID,
		rec.Engine,
		rec.Status,
		rec.Source,
		rec.Target,
		nullableString(rec.Rules),
		summary,
		nullableString(rec.Error),
		nullableString(rec.ReportPath),
		timeOrNil(rec.StartedAt),
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) Update(rec Record) error {
	if strings.TrimSpace(rec.RunID) == "" {
		return errors.New("run id is required")
	}
	summary, err := rec.summaryValue()
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE recon_runs SET
            run_status = ?,
            engine = COALESCE(NULLIF(?, ''), engine),
            summary = ?,
            error = ?,
            report_path = ?,
            finished_at = ?,
            time_taken = ?
        WHERE run_id = ?`,
		rec.Status,
		rec.Engine,
		summary,
		nullableString(rec.Error),
		nullableString(rec.ReportPath),
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
		rec.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("ensure recon_runs schema: %w", err)
	}
	return nil
}

func (r Record) validateForCreate() error {
	switch {
	case strings.TrimSpace(r.RunID) == "":
		return errors.New("run id is required")
	case strings.TrimSpace(r.Engine) == "":
		return errors.New("engine is required")
	case strings.TrimSpace(r.Status) == "":
		return errors.New("run status is required")
	case strings.TrimSpace(r.Source) == "" || strings.TrimSpace(r.Target) == "":
		return errors.New("source and target are required")
	}
	return nil
}

func (r Record) summaryValue() (any, error) {
	if r.Summary == nil {
		return nil, nil
	}
	blob, err := json.Marshal(r.Summary)
	if err != nil {
		return nil, err
	}
	return string(blob), nil
}

func resolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := os.Getenv("RECON_HISTORY_DB"); strings.TrimSpace(env) != "" {
		return env
	}
	return filepath.Join(".", "recon_history.db")
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func nullableString(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
