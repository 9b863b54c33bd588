// Package store implements the keeper's persisted state: open positions and
// unresolved single-leg incidents survive a process restart so the
// scheduler's VerifyPositionState and RetrySingleLeg loops have something
// to reconcile against on the very first tick after a crash.
//
// Grounded on the corpus's general "pick a backend by config, behind one
// interface" precedent (internal/bootstrap/config.go's DatabaseURL
// preflight check for the DBOS backend); the memory/file/sql three-way
// split and its DSN-scheme dispatch are new, since the corpus always talks
// to exactly one durable backend (DBOS/Postgres) and never needs to choose.
package store

import (
	"context"
	"fmt"
	"time"

	"fundingkeeper/internal/config"
	"fundingkeeper/internal/core"
)

// Store is the persisted-state surface the scheduler and execution engine
// read and write. Implementations need not be transactional across
// multiple calls; callers that need atomicity compose it themselves (the
// execution engine already serializes per-position-id).
type Store interface {
	UpsertPosition(ctx context.Context, p core.Position) error
	DeletePosition(ctx context.Context, id string) error
	ListPositions(ctx context.Context) ([]core.Position, error)

	SaveIncident(ctx context.Context, inc core.SingleLegIncident) error
	ResolveIncident(ctx context.Context, id string, resolvedAt time.Time) error
	ListOpenIncidents(ctx context.Context) ([]core.SingleLegIncident, error)

	Close() error
}

// New builds a Store from cfg.Storage, per the `storage.type` setting.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: file backend requires storage.dsn to be a file path")
		}
		return NewFile(cfg.DSN)
	case "sql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: sql backend requires storage.dsn")
		}
		return NewSQL(cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unknown storage.type %q", cfg.Type)
	}
}
