package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Veraticus/chatfin/internal/model"
	"github.com/Veraticus/chatfin/internal/service"
)

// PostgresStorage implements the Storage interface on a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// pgQueryable is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQueryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresOptions tunes the connection pool.
type PostgresOptions struct {
	MaxConns        int32
	MinConns        int32
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// DefaultPostgresOptions returns a small pool suitable for a single process.
func DefaultPostgresOptions() PostgresOptions {
	return PostgresOptions{
		MaxConns:        8,
		MinConns:        1,
		ConnectAttempts: 5,
		ConnectBackoff:  time.Second,
	}
}

// NewPostgresStorage opens a pool and pings it, retrying with exponential
// backoff while the server comes up.
func NewPostgresStorage(ctx context.Context, dsn string, opts PostgresOptions) (*PostgresStorage, error) {
	if err := validateString(dsn, "dsn"); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 1
	}

	backoff := opts.ConnectBackoff
	for attempt := 1; ; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = pool.Ping(pingCtx)
			cancel()
			if err == nil {
				return &PostgresStorage{pool: pool}, nil
			}
			pool.Close()
		}

		if attempt >= opts.ConnectAttempts {
			return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempt, err)
		}
		slog.Warn("Database connection failed, retrying",
			"attempt", attempt,
			"max_attempts", opts.ConnectAttempts,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Close releases the pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// BeginTx starts a new database transaction.
func (s *PostgresStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// pgx ties the transaction to a context; commit and rollback reuse it.
	return &postgresTransaction{tx: tx, ctx: ctx}, nil
}

type postgresTransaction struct {
	tx  pgx.Tx
	ctx context.Context
}

func (t *postgresTransaction) Commit() error {
	return t.tx.Commit(t.ctx)
}

func (t *postgresTransaction) Rollback() error {
	return t.tx.Rollback(t.ctx)
}

func (t *postgresTransaction) LoadCategoryMappings(ctx context.Context, userID string) ([]model.CategoryMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	return pgLoadCategoryMappings(ctx, t.tx, userID)
}

func (t *postgresTransaction) SaveCategoryMappings(ctx context.Context, userID string, mappings []model.CategoryMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMappings(userID, mappings); err != nil {
		return err
	}
	return pgSaveCategoryMappings(ctx, t.tx, mappings)
}

func (t *postgresTransaction) AppendLearningEvent(ctx context.Context, event *model.LearningEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLearningEvent(event); err != nil {
		return err
	}
	return pgAppendLearningEvent(ctx, t.tx, event)
}

func (t *postgresTransaction) ListLearningEvents(ctx context.Context, userID string, limit int) ([]model.LearningEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return pgListLearningEvents(ctx, t.tx, userID, limit)
}

// SaveTransaction records a money movement inside the open transaction.
func (t *postgresTransaction) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := prepareTransaction(ctx, txn); err != nil {
		return err
	}
	return pgInsertTransaction(ctx, t.tx, txn)
}
