// Package ledger re-exports the checkpoint contract and opens the configured
// backend.
package ledger

import (
	"context"
	"fmt"

	"songmigration/internal/config"
	"songmigration/internal/infra/ledger/memory"
	"songmigration/internal/infra/ledger/postgres"
	"songmigration/internal/infra/ledger/sqlite"
	"songmigration/internal/ledger/core"
)

type (
	Driver     = core.Driver
	Checkpoint = core.Checkpoint
	Ledger     = core.Ledger
)

const (
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
)

var (
	ErrNotFound = core.ErrNotFound
	ErrInvalid  = core.ErrInvalid
)

// Open selects a Ledger from the ledger section of the config.
func Open(ctx context.Context, cfg config.LedgerConfig) (Ledger, error) {
	switch Driver(cfg.Driver) {
	case DriverMemory, "":
		return memory.New(), nil
	case DriverSQLite:
		return sqlite.New(ctx, cfg.SQLitePath)
	case DriverPostgres:
		return postgres.New(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown ledger driver %s", cfg.Driver)
	}
}

// NewMemory returns an in-memory Ledger.
func NewMemory() Ledger { return memory.New() }
