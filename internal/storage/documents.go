package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
	"github.com/shopspring/decimal"
)

// SaveDocument stores a structured document and replaces its items.
func (s *SQLiteStorage) SaveDocument(ctx context.Context, doc *model.StructuredDocument) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDocument(doc); err != nil {
		return err
	}

	issues, err := json.Marshal(doc.Issues)
	if err != nil {
		return fmt.Errorf("failed to encode document issues: %w", err)
	}

	created := doc.CreatedAt
	if created.IsZero() {
		created = time.Now()
		doc.CreatedAt = created
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents
			(id, user_id, merchant, category, raw_text, ocr_engine, payment_mode, document_date,
			 declared_total, ocr_confidence, needs_review, issues, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			merchant = excluded.merchant,
			category = excluded.category,
			raw_text = excluded.raw_text,
			ocr_engine = excluded.ocr_engine,
			payment_mode = excluded.payment_mode,
			document_date = excluded.document_date,
			declared_total = excluded.declared_total,
			ocr_confidence = excluded.ocr_confidence,
			needs_review = excluded.needs_review,
			issues = excluded.issues
	`, doc.ID, doc.UserID, doc.Merchant, doc.Category, doc.RawText, doc.OCREngine, doc.PaymentMode,
		nullTime(doc.Date), nullDecimal(doc.DeclaredTotal), doc.OCRConfidence, doc.NeedsReview,
		string(issues), created.UTC())
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_items WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear document items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_items
			(document_id, position, name, raw_line, quantity, unit_price, line_total, mismatch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare item statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, item := range doc.Items {
		if _, err := stmt.ExecContext(ctx, doc.ID, i, item.Name, item.RawLine,
			item.Quantity.String(), item.UnitPrice.String(), item.LineTotal.String(), item.Mismatch); err != nil {
			return fmt.Errorf("failed to save item %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetDocument retrieves a document and its items.
func (s *SQLiteStorage) GetDocument(ctx context.Context, userID, id string) (*model.StructuredDocument, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, documentSelect+` WHERE user_id = ? AND id = ?`, userID, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, raw_line, quantity, unit_price, line_total, mismatch
		FROM document_items
		WHERE document_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query document items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item model.Item
		var rawLine sql.NullString
		if err := rows.Scan(&item.Name, &rawLine, &item.Quantity, &item.UnitPrice,
			&item.LineTotal, &item.Mismatch); err != nil {
			return nil, fmt.Errorf("failed to scan document item: %w", err)
		}
		item.RawLine = rawLine.String
		doc.Items = append(doc.Items, item)
	}

	return doc, rows.Err()
}

// LoadDocumentText returns a user's documents without items, oldest first.
// It feeds index rebuilds.
func (s *SQLiteStorage) LoadDocumentText(ctx context.Context, userID string) ([]model.StructuredDocument, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, documentSelect+` WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []model.StructuredDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}

	return docs, rows.Err()
}

// UpdateDocumentCategory sets the category after a user confirms or corrects it.
func (s *SQLiteStorage) UpdateDocumentCategory(ctx context.Context, userID, id, category string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(category, "category"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET category = ? WHERE user_id = ? AND id = ?`, category, userID, id)
	if err != nil {
		return fmt.Errorf("failed to update document category: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return nil
}

const documentSelect = `
	SELECT id, user_id, merchant, category, raw_text, ocr_engine, payment_mode, document_date,
		declared_total, ocr_confidence, needs_review, issues, created_at
	FROM documents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.StructuredDocument, error) {
	var doc model.StructuredDocument
	var merchant, category, engine, payment, issues sql.NullString
	var date sql.NullTime
	var total decimal.NullDecimal

	err := row.Scan(&doc.ID, &doc.UserID, &merchant, &category, &doc.RawText, &engine, &payment,
		&date, &total, &doc.OCRConfidence, &doc.NeedsReview, &issues, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.Merchant = merchant.String
	doc.Category = category.String
	doc.OCREngine = engine.String
	doc.PaymentMode = payment.String
	if date.Valid {
		d := date.Time
		doc.Date = &d
	}
	if total.Valid {
		t := total.Decimal
		doc.DeclaredTotal = &t
	}
	if issues.String != "" && issues.String != "null" {
		if err := json.Unmarshal([]byte(issues.String), &doc.Issues); err != nil {
			return nil, fmt.Errorf("failed to decode document issues: %w", err)
		}
	}

	return &doc, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
