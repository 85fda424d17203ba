// Package store selects the persistence backend named in the configuration.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"hkbot/internal/config"
	"hkbot/internal/domain"
	"hkbot/internal/store/postgres"
	"hkbot/internal/store/sqlite"
)

var (
	_ domain.Store = (*sqlite.Store)(nil)
	_ domain.Store = (*postgres.Store)(nil)
)

// Open returns the configured backend with its schema up to date.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (domain.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLitePath, Logger: logger})
	case "postgres":
		return postgres.Open(ctx, postgres.Config{
			DSN:         cfg.PostgresDSN,
			AutoMigrate: cfg.AutoMigrate,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
