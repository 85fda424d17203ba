package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations. Each one is applied
// exactly once, tracked in the schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "chats, messages, tickets",
		SQL: `
		CREATE TABLE IF NOT EXISTS chats (
			id          TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			UNIQUE(business_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id           TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			text              TEXT,
			image_url         TEXT,
			image_description TEXT,
			is_user           INTEGER NOT NULL DEFAULT 1,
			created_at        INTEGER NOT NULL,
			CHECK (text IS NOT NULL OR image_url IS NOT NULL)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);

		CREATE TABLE IF NOT EXISTS tickets (
			id                     TEXT PRIMARY KEY,
			description            TEXT NOT NULL,
			opened_by_phone_number TEXT NOT NULL,
			latest                 TEXT NOT NULL DEFAULT '',
			is_open                INTEGER NOT NULL DEFAULT 1,
			created_at             INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_open ON tickets(is_open, created_at);
		`,
	},
	{
		Version:     2,
		Description: "processed_messages for webhook redelivery",
		SQL: `
		CREATE TABLE IF NOT EXISTS processed_messages (
			message_id   TEXT PRIMARY KEY,
			processed_at INTEGER NOT NULL
		);
		`,
	},
}

// RunMigrations applies all pending schema migrations, one transaction each.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration v%d: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.Version, err)
	}
	return nil
}

// GetSchemaVersion returns the applied schema version, 0 for a fresh database.
func GetSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query schema table: %w", err)
	}

	var version int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
