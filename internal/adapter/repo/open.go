package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"omnidownloader/internal/domain"
	"omnidownloader/internal/infra"
)

// Handle is an opened job store with its lifecycle hooks.
type Handle struct {
	Store domain.JobStore
	// Ping checks the backing database; nil for the memory store.
	Ping  func(ctx context.Context) error
	Close func()
}

// Open builds the job store selected by cfg.StoreDriver and makes sure its
// schema exists.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Handle, error) {
	switch cfg.StoreDriver {
	case infra.StorePostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := NewJobRepository(infra.NewSQLRunner(pool, logger))
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Msg("job store ready")
		return &Handle{Store: store, Ping: pool.Ping, Close: pool.Close}, nil

	case infra.StoreSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		db, err := infra.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store := NewSQLiteJobRepository(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Str("path", cfg.SQLitePath).Msg("job store ready")
		return &Handle{Store: store, Ping: db.PingContext, Close: func() { _ = db.Close() }}, nil

	case infra.StoreMemory, "":
		logger.Warn().Msg("using in-memory job store; jobs are lost on restart")
		return &Handle{Store: NewMemoryJobStore(), Close: func() {}}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
