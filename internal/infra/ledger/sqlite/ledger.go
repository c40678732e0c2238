// Package sqlite persists replay checkpoints in a local SQLite file so an
// interrupted run can be resumed by a later invocation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"songmigration/internal/ledger/core"
)

const defaultPath = "song-migrate.db"

const schema = `CREATE TABLE IF NOT EXISTS checkpoints (
	run_key     TEXT NOT NULL,
	analysis_id TEXT NOT NULL,
	study_id    TEXT NOT NULL,
	state       TEXT NOT NULL,
	files_done  INTEGER NOT NULL,
	attempt_id  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (run_key, analysis_id)
)`

// Ledger implements core.Ledger on SQLite.
type Ledger struct {
	db    *sql.DB
	path  string
	nowFn func() time.Time
}

// New opens (creating when needed) the ledger file at path.
func New(ctx context.Context, path string) (*Ledger, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; the replay driver is sequential anyway
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Ledger{db: db, path: path, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

func (l *Ledger) Driver() core.Driver { return core.DriverSQLite }

// Path returns the database file location.
func (l *Ledger) Path() string { return l.path }

func (l *Ledger) Get(ctx context.Context, runKey, analysisID string) (core.Checkpoint, error) {
	row := l.db.QueryRowContext(ctx, `SELECT run_key, analysis_id, study_id, state, files_done, attempt_id, updated_at
		FROM checkpoints WHERE run_key = ? AND analysis_id = ?`, runKey, analysisID)
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
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(run_key, analysis_id) DO UPDATE SET
			study_id=excluded.study_id, state=excluded.state, files_done=excluded.files_done,
			attempt_id=excluded.attempt_id, updated_at=excluded.updated_at`,
		cp.RunKey, cp.AnalysisID, cp.StudyID, cp.State, cp.FilesDone, cp.AttemptID, cp.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert checkpoint %s/%s: %w", cp.RunKey, cp.AnalysisID, err)
	}
	return nil
}

func (l *Ledger) List(ctx context.Context, runKey string) ([]core.Checkpoint, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT run_key, analysis_id, study_id, state, files_done, attempt_id, updated_at
		FROM checkpoints WHERE run_key = ? ORDER BY analysis_id`, runKey)
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
	var updated string
	if err := s.Scan(&cp.RunKey, &cp.AnalysisID, &cp.StudyID, &cp.State, &cp.FilesDone, &cp.AttemptID, &updated); err != nil {
		return core.Checkpoint{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return core.Checkpoint{}, fmt.Errorf("decode updated_at: %w", err)
	}
	cp.UpdatedAt = ts
	return cp, nil
}
