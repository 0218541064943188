// Package db selects the storage backend behind the market store and the
// settlement outbox.
package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leafsii/outcome-amm/internal/db/backends/memory"
	"github.com/leafsii/outcome-amm/internal/db/backends/postgres"
	"github.com/leafsii/outcome-amm/internal/db/backends/sqlite"
	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

// Database is a market store that also holds the settlement outbox and the
// escrow ledger, so a market, the collateral it consumes and the transfers
// it emits are committed together.
type Database interface {
	markets.Store
	settlement.Outbox
	settlement.Ledger
	Ping(ctx context.Context) error
	Close() error
}

// Config holds database configuration
type Config struct {
	Type     string // "memory", "postgres", "sqlite"
	DSN      string // postgres connection string or sqlite file path
	MaxConns int
	MinConns int
}

// NewDatabase opens the configured backend and applies migrations.
func NewDatabase(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (Database, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	switch cfg.Type {
	case "", "memory":
		logger.Warnw("Using in-memory database; state is lost on restart")
		return memory.NewDatabase(), nil
	case "sqlite":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		logger.Infow("Using SQLite database", "path", cfg.DSN)
		return sqlite.Open(ctx, cfg.DSN)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		logger.Infow("Using PostgreSQL database")
		return postgres.Open(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// NewInMemoryDatabase creates a new in-memory database instance
func NewInMemoryDatabase() Database {
	return memory.NewDatabase()
}
