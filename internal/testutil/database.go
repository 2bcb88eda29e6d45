// Package testutil provides test helpers for chatfin packages that need a database.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/chatfin/internal/model"
	"github.com/Veraticus/chatfin/internal/service"
	"github.com/Veraticus/chatfin/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory SQLite database that is closed
// when the test finishes.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, service.Storage) error
	Mappings       []model.CategoryMapping
	SkipMigrations bool
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	ctx := context.Background()

	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	db := &TestDB{Storage: store, t: t}
	if len(opts.Mappings) > 0 {
		db.SeedMappings(opts.Mappings...)
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return db
}

// SeedMappings writes mappings grouped by user or fails the test.
func (db *TestDB) SeedMappings(mappings ...model.CategoryMapping) {
	db.t.Helper()

	byUser := make(map[string][]model.CategoryMapping)
	for _, m := range mappings {
		if m.ObservationCount == 0 {
			m.ObservationCount = 1
		}
		byUser[m.UserID] = append(byUser[m.UserID], m)
	}
	for userID, ms := range byUser {
		if err := db.Storage.SaveCategoryMappings(context.Background(), userID, ms); err != nil {
			db.t.Fatalf("failed to seed mappings for %q: %v", userID, err)
		}
	}
}

// Mapping builds a mapping for seeding.
func Mapping(userID string, scope model.MappingScope, key, category string, weight float64) model.CategoryMapping {
	return model.CategoryMapping{
		UserID:    userID,
		Scope:     scope,
		Key:       key,
		Category:  category,
		Weight:    weight,
		UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// WithTransaction executes fn within a database transaction that is always
// rolled back afterwards.
func (db *TestDB) WithTransaction(fn func(tx service.Transaction) error) error {
	ctx := context.Background()
	tx, err := db.Storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}
