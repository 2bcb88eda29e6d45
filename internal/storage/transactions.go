package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
	"github.com/mattn/go-sqlite3"
)

// SaveTransaction records a money movement. A transaction whose hash already
// exists is rejected with common.ErrDuplicateEntry.
func (s *SQLiteStorage) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := prepareTransaction(ctx, txn); err != nil {
		return err
	}
	return insertTransaction(ctx, s.db, txn)
}

// SaveTransaction records a money movement inside the open transaction.
func (t *sqliteTransaction) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := prepareTransaction(ctx, txn); err != nil {
		return err
	}
	return insertTransaction(ctx, t.tx, txn)
}

// prepareTransaction validates txn and fills the hash and timestamps.
func prepareTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}

	if txn.Hash == "" {
		txn.Hash = txn.GenerateHash()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	if txn.OccurredAt.IsZero() {
		txn.OccurredAt = txn.CreatedAt
	}
	return nil
}

func insertTransaction(ctx context.Context, q queryable, txn *model.Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions
			(id, user_id, hash, kind, amount, merchant, category, note, source,
			 document_id, confidence, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, txn.ID, txn.UserID, txn.Hash, string(txn.Kind), txn.Amount.String(), txn.Merchant,
		txn.Category, txn.Note, string(txn.Source), txn.DocumentID, txn.Confidence,
		txn.OccurredAt.UTC(), txn.CreatedAt.UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && (sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
			return fmt.Errorf("transaction %s: %w", txn.ID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	return nil
}

// GetTransaction retrieves a single transaction by ID.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, userID, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, transactionSelect+` WHERE user_id = ? AND id = ?`, userID, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	return txn, err
}

// ListTransactions returns a user's transactions matching filter, oldest first.
func (s *SQLiteStorage) ListTransactions(ctx context.Context, userID string, filter model.QueryFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	return listTransactions(ctx, s.db, userID, filter)
}

// UpdateTransactionCategory sets the category after a user corrects it. The
// source becomes user_mapping with full confidence.
func (s *SQLiteStorage) UpdateTransactionCategory(ctx context.Context, userID, id, category string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(category, "category"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET category = ?, source = ?, confidence = 1
		WHERE user_id = ? AND id = ?
	`, category, string(model.SourceUserMapping), userID, id)
	if err != nil {
		return fmt.Errorf("failed to update transaction category: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	return nil
}

const transactionSelect = `
	SELECT id, user_id, hash, kind, amount, merchant, category, note, source,
		document_id, confidence, occurred_at, created_at
	FROM transactions`

func listTransactions(ctx context.Context, q queryable, userID string, filter model.QueryFilter) ([]model.Transaction, error) {
	if filter.Start != nil && filter.End != nil && !filter.Start.Before(*filter.End) {
		return nil, ErrInvalidDateRange
	}

	clauses := []string{"user_id = ?"}
	args := []any{userID}
	if filter.Start != nil {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, filter.Start.UTC())
	}
	if filter.End != nil {
		clauses = append(clauses, "occurred_at < ?")
		args = append(args, filter.End.UTC())
	}
	if filter.Category != "" {
		clauses = append(clauses, "LOWER(category) = LOWER(?)")
		args = append(args, filter.Category)
	}
	if filter.Merchant != "" {
		clauses = append(clauses, "LOWER(merchant) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Merchant)+"%")
	}

	query := transactionSelect + " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY occurred_at, id"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}

	return txns, rows.Err()
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var kind string
	var merchant, category, note, source, documentID sql.NullString

	err := row.Scan(&txn.ID, &txn.UserID, &txn.Hash, &kind, &txn.Amount, &merchant, &category,
		&note, &source, &documentID, &txn.Confidence, &txn.OccurredAt, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Kind = model.IntentKind(kind)
	txn.Merchant = merchant.String
	txn.Category = category.String
	txn.Note = note.String
	txn.Source = model.CategorizationSource(source.String)
	txn.DocumentID = documentID.String
	return &txn, nil
}
