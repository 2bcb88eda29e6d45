package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// pgMigrations mirror the SQLite migrations version for version so both
// backends report the same ExpectedSchemaVersion.
var pgMigrations = []struct {
	Description string
	Statements  []string
	Version     int
}{
	{
		Version:     1,
		Description: "Initial schema",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				merchant TEXT,
				category TEXT,
				raw_text TEXT NOT NULL,
				ocr_engine TEXT,
				document_date TIMESTAMPTZ,
				declared_total TEXT,
				ocr_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
				needs_review BOOLEAN NOT NULL DEFAULT FALSE,
				issues JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id)`,
			`CREATE TABLE IF NOT EXISTS document_items (
				document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				name TEXT NOT NULL,
				raw_line TEXT,
				quantity TEXT NOT NULL,
				unit_price TEXT NOT NULL,
				line_total TEXT NOT NULL,
				mismatch BOOLEAN NOT NULL DEFAULT FALSE,
				PRIMARY KEY (document_id, position)
			)`,
			`CREATE TABLE IF NOT EXISTS category_mappings (
				user_id TEXT NOT NULL,
				scope TEXT NOT NULL,
				key TEXT NOT NULL,
				category TEXT NOT NULL,
				weight DOUBLE PRECISION NOT NULL DEFAULT 0,
				observation_count INTEGER NOT NULL DEFAULT 0,
				corrections INTEGER NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (user_id, scope, key, category)
			)`,
			`CREATE TABLE IF NOT EXISTS category_mapping_events (
				id BIGSERIAL PRIMARY KEY,
				user_id TEXT NOT NULL,
				category TEXT NOT NULL,
				previous_category TEXT,
				merchant TEXT,
				amount_bucket TEXT,
				keywords TEXT,
				confirmed BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_mapping_events_user ON category_mapping_events(user_id, id)`,
			`CREATE TABLE IF NOT EXISTS transactions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				hash TEXT UNIQUE NOT NULL,
				kind TEXT NOT NULL,
				amount TEXT NOT NULL,
				merchant TEXT,
				category TEXT,
				note TEXT,
				source TEXT,
				document_id TEXT,
				confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
				occurred_at TIMESTAMPTZ NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, occurred_at)`,
		},
	},
	{
		Version:     2,
		Description: "Add conversation sessions",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS conversation_sessions (
				user_id TEXT NOT NULL,
				id TEXT NOT NULL,
				state TEXT NOT NULL,
				payload JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (user_id, id)
			)`,
		},
	},
	{
		Version:     3,
		Description: "Add payment mode to documents and category index on transactions",
		Statements: []string{
			`ALTER TABLE documents ADD COLUMN IF NOT EXISTS payment_mode TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(user_id, category)`,
		},
	},
}

// Migrate applies all pending migrations. The applied version lives in
// schema_version since Postgres has no user_version pragma.
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	currentVersion, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range pgMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		if err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			for _, stmt := range migration.Statements {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			if _, err := tx.Exec(ctx, `DELETE FROM schema_version`); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, migration.Version)
			return err
		}); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}
	return nil
}

func (s *PostgresStorage) schemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
