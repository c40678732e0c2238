// Package postgres persists replay checkpoints in a shared Postgres database
// through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"songmigration/internal/ledger/core"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/song_migration?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const schema = `CREATE TABLE IF NOT EXISTS checkpoints (
	run_key     TEXT NOT NULL,
	analysis_id TEXT NOT NULL,
	study_id    TEXT NOT NULL,
	state       TEXT NOT NULL,
	files_done  INTEGER NOT NULL,
	attempt_id  TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_key, analysis_id)
)`

const selectColumns = `SELECT run_key, analysis_id, study_id, state, files_done, attempt_id, updated_at FROM checkpoints`

// Ledger implements core.Ledger on Postgres.
type Ledger struct {
	db    *sql.DB
	nowFn func() time.Time
}

// New connects to dsn (falls back to defaultDSN) and ensures the table exists.
func New(ctx context.Context, dsn string) (*Ledger, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure checkpoints table: %w", err)
	}
	return &Ledger{db: db, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

func (l *Ledger) Driver() core.Driver { return core.DriverPostgres }

// DB exposes the underlying sql.DB for integration testing hooks.
func (l *Ledger) DB() *sql.DB { return l.db }

func (l *Ledger) Get(ctx context.Context, runKey, analysisID string) (core.Checkpoint, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+` WHERE run_key = $1 AND analysis_id = $2`, runKey, analysisID)
	cp, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Checkpoint{}, fmt.Errorf("%w: %s/%s", core.ErrNotFound, runKey, analysisID)
	}
	return cp, err
}

func (l *Ledger) Save(ctx context.Context, cp core.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = l.nowFn()
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO checkpoints(run_key, analysis_id, study_id, state, files_done, attempt_id, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (run_key, analysis_id) DO UPDATE SET
			study_id = EXCLUDED.study_id, state = EXCLUDED.state, files_done = EXCLUDED.files_done,
			attempt_id = EXCLUDED.attempt_id, updated_at = EXCLUDED.updated_at`,
		cp.RunKey, cp.AnalysisID, cp.StudyID, cp.State, cp.FilesDone, cp.AttemptID, cp.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert checkpoint %s/%s: %w", cp.RunKey, cp.AnalysisID, err)
	}
	return nil
}

func (l *Ledger) List(ctx context.Context, runKey string) ([]core.Checkpoint, error) {
	rows, err := l.db.QueryContext(ctx, selectColumns+` WHERE run_key = $1 ORDER BY analysis_id`, runKey)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]core.Checkpoint, 0)
	for rows.Next() {
		cp, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (l *Ledger) Close() error { return l.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (core.Checkpoint, error) {
	var cp core.Checkpoint
	var files int64
	if err := s.Scan(&cp.RunKey, &cp.AnalysisID, &cp.StudyID, &cp.State, &files, &cp.AttemptID, &cp.UpdatedAt); err != nil {
		return core.Checkpoint{}, err
	}
	cp.FilesDone = int(files)
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return cp, nil
}
