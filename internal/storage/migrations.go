package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS documents (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					merchant TEXT,
					category TEXT,
					raw_text TEXT NOT NULL,
					ocr_engine TEXT,
					document_date DATETIME,
					declared_total TEXT,
					ocr_confidence REAL DEFAULT 0,
					needs_review INTEGER DEFAULT 0,
					issues TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_documents_user ON documents(user_id)`,

				`CREATE TABLE IF NOT EXISTS document_items (
					document_id TEXT NOT NULL,
					position INTEGER NOT NULL,
					name TEXT NOT NULL,
					raw_line TEXT,
					quantity TEXT NOT NULL,
					unit_price TEXT NOT NULL,
					line_total TEXT NOT NULL,
					mismatch INTEGER DEFAULT 0,
					PRIMARY KEY (document_id, position),
					FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
				)`,

				`CREATE TABLE IF NOT EXISTS category_mappings (
					user_id TEXT NOT NULL,
					scope TEXT NOT NULL,
					key TEXT NOT NULL,
					category TEXT NOT NULL,
					weight REAL NOT NULL DEFAULT 0,
					observation_count INTEGER NOT NULL DEFAULT 0,
					corrections INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (user_id, scope, key, category)
				)`,

				`CREATE TABLE IF NOT EXISTS category_mapping_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id TEXT NOT NULL,
					category TEXT NOT NULL,
					previous_category TEXT,
					merchant TEXT,
					amount_bucket TEXT,
					keywords TEXT,
					confirmed INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_mapping_events_user ON category_mapping_events(user_id, id)`,

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
					confidence REAL DEFAULT 0,
					occurred_at DATETIME NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_user_date ON transactions(user_id, occurred_at)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Add conversation sessions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS conversation_sessions (
					user_id TEXT NOT NULL,
					id TEXT NOT NULL,
					state TEXT NOT NULL,
					payload TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (user_id, id)
				)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add payment mode to documents and category index on transactions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`ALTER TABLE documents ADD COLUMN payment_mode TEXT`,
				`CREATE INDEX idx_transactions_category ON transactions(user_id, category)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
