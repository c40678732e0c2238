// Package core defines the replay checkpoint contract shared by the replay
// driver and the concrete ledger backends.
package core

import (
	"context"
	"errors"
	"time"
)

// Driver identifies a ledger backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Checkpoint is the last completed replay step for one analysis of a run.
type Checkpoint struct {
	RunKey     string
	AnalysisID string
	StudyID    string
	// State is the replay state reached, e.g. "unpublished" or "published".
	State string
	// FilesDone counts files already patched, in record order.
	FilesDone int
	AttemptID string
	UpdatedAt time.Time
}

// Ledger stores checkpoints keyed by (RunKey, AnalysisID). Save overwrites.
type Ledger interface {
	Get(ctx context.Context, runKey, analysisID string) (Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
	// List returns the checkpoints of a run ordered by analysis ID.
	List(ctx context.Context, runKey string) ([]Checkpoint, error)
	Close() error
	Driver() Driver
}

var (
	// ErrNotFound is returned by Get when no checkpoint exists.
	ErrNotFound = errors.New("ledger: checkpoint not found")
	// ErrInvalid is returned by Save for checkpoints missing their key.
	ErrInvalid = errors.New("ledger: checkpoint requires run key and analysis id")
)

// Validate reports ErrInvalid for an unkeyed checkpoint.
func (c Checkpoint) Validate() error {
	if c.RunKey == "" || c.AnalysisID == "" {
		return ErrInvalid
	}
	return nil
}
