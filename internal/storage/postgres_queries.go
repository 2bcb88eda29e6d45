package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
)

const pgUniqueViolation = "23505"

// SaveDocument stores a structured document and replaces its items.
func (s *PostgresStorage) SaveDocument(ctx context.Context, doc *model.StructuredDocument) error {
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
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents
				(id, user_id, merchant, category, raw_text, ocr_engine, payment_mode, document_date,
				 declared_total, ocr_confidence, needs_review, issues, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO UPDATE SET
				merchant = EXCLUDED.merchant,
				category = EXCLUDED.category,
				raw_text = EXCLUDED.raw_text,
				ocr_engine = EXCLUDED.ocr_engine,
				payment_mode = EXCLUDED.payment_mode,
				document_date = EXCLUDED.document_date,
				declared_total = EXCLUDED.declared_total,
				ocr_confidence = EXCLUDED.ocr_confidence,
				needs_review = EXCLUDED.needs_review,
				issues = EXCLUDED.issues
		`, doc.ID, doc.UserID, doc.Merchant, doc.Category, doc.RawText, doc.OCREngine, doc.PaymentMode,
			nullTime(doc.Date), nullDecimal(doc.DeclaredTotal), doc.OCRConfidence, doc.NeedsReview,
			string(issues), doc.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM document_items WHERE document_id = $1`, doc.ID); err != nil {
			return fmt.Errorf("failed to clear document items: %w", err)
		}

		batch := &pgx.Batch{}
		for i, item := range doc.Items {
			batch.Queue(`
				INSERT INTO document_items
					(document_id, position, name, raw_line, quantity, unit_price, line_total, mismatch)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, doc.ID, i, item.Name, item.RawLine, item.Quantity.String(), item.UnitPrice.String(),
				item.LineTotal.String(), item.Mismatch)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to save document items: %w", err)
			}
		}
		return nil
	})
}

// GetDocument retrieves a document and its items.
func (s *PostgresStorage) GetDocument(ctx context.Context, userID, id string) (*model.StructuredDocument, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	doc, err := pgScanDocument(s.pool.QueryRow(ctx, pgDocumentSelect+` WHERE user_id = $1 AND id = $2`, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT name, raw_line, quantity, unit_price, line_total, mismatch
		FROM document_items
		WHERE document_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query document items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.Item
		var rawLine *string
		var quantity, unitPrice, lineTotal string
		if err := rows.Scan(&item.Name, &rawLine, &quantity, &unitPrice, &lineTotal, &item.Mismatch); err != nil {
			return nil, fmt.Errorf("failed to scan document item: %w", err)
		}
		if rawLine != nil {
			item.RawLine = *rawLine
		}
		if item.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("invalid item quantity %q: %w", quantity, err)
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("invalid item unit price %q: %w", unitPrice, err)
		}
		if item.LineTotal, err = decimal.NewFromString(lineTotal); err != nil {
			return nil, fmt.Errorf("invalid item line total %q: %w", lineTotal, err)
		}
		doc.Items = append(doc.Items, item)
	}

	return doc, rows.Err()
}

// LoadDocumentText returns a user's documents without items, oldest first.
func (s *PostgresStorage) LoadDocumentText(ctx context.Context, userID string) ([]model.StructuredDocument, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, pgDocumentSelect+` WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []model.StructuredDocument
	for rows.Next() {
		doc, err := pgScanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentCategory sets the category after a user confirms or corrects it.
func (s *PostgresStorage) UpdateDocumentCategory(ctx context.Context, userID, id, category string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(category, "category"); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET category = $1 WHERE user_id = $2 AND id = $3`, category, userID, id)
	if err != nil {
		return fmt.Errorf("failed to update document category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return nil
}

const pgDocumentSelect = `
	SELECT id, user_id, merchant, category, raw_text, ocr_engine, payment_mode, document_date,
		declared_total, ocr_confidence, needs_review, issues, created_at
	FROM documents`

func pgScanDocument(row pgx.Row) (*model.StructuredDocument, error) {
	var doc model.StructuredDocument
	var merchant, category, engine, payment, total *string
	var issues []byte

	err := row.Scan(&doc.ID, &doc.UserID, &merchant, &category, &doc.RawText, &engine, &payment,
		&doc.Date, &total, &doc.OCRConfidence, &doc.NeedsReview, &issues, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.Merchant = deref(merchant)
	doc.Category = deref(category)
	doc.OCREngine = deref(engine)
	doc.PaymentMode = deref(payment)
	if total != nil {
		t, err := decimal.NewFromString(*total)
		if err != nil {
			return nil, fmt.Errorf("invalid declared total %q: %w", *total, err)
		}
		doc.DeclaredTotal = &t
	}
	if len(issues) > 0 && string(issues) != "null" {
		if err := json.Unmarshal(issues, &doc.Issues); err != nil {
			return nil, fmt.Errorf("failed to decode document issues: %w", err)
		}
	}
	return &doc, nil
}

// SaveTransaction records a money movement. A transaction whose hash already
// exists is rejected with common.ErrDuplicateEntry.
func (s *PostgresStorage) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := prepareTransaction(ctx, txn); err != nil {
		return err
	}
	return pgInsertTransaction(ctx, s.pool, txn)
}

func pgInsertTransaction(ctx context.Context, q pgQueryable, txn *model.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO transactions
			(id, user_id, hash, kind, amount, merchant, category, note, source,
			 document_id, confidence, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, txn.ID, txn.UserID, txn.Hash, string(txn.Kind), txn.Amount.String(), txn.Merchant,
		txn.Category, txn.Note, string(txn.Source), txn.DocumentID, txn.Confidence,
		txn.OccurredAt.UTC(), txn.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("transaction %s: %w", txn.ID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a single transaction by ID.
func (s *PostgresStorage) GetTransaction(ctx context.Context, userID, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	txn, err := pgScanTransaction(s.pool.QueryRow(ctx, pgTransactionSelect+` WHERE user_id = $1 AND id = $2`, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	return txn, err
}

// ListTransactions returns a user's transactions matching filter, oldest first.
func (s *PostgresStorage) ListTransactions(ctx context.Context, userID string, filter model.QueryFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if filter.Start != nil && filter.End != nil && !filter.Start.Before(*filter.End) {
		return nil, ErrInvalidDateRange
	}

	clauses := []string{"user_id = $1"}
	args := []any{userID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Start != nil {
		add("occurred_at >= $%d", filter.Start.UTC())
	}
	if filter.End != nil {
		add("occurred_at < $%d", filter.End.UTC())
	}
	if filter.Category != "" {
		add("LOWER(category) = LOWER($%d)", filter.Category)
	}
	if filter.Merchant != "" {
		add("LOWER(merchant) LIKE $%d", "%"+strings.ToLower(filter.Merchant)+"%")
	}

	query := pgTransactionSelect + " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY occurred_at, id"
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		txn, err := pgScanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

// UpdateTransactionCategory sets the category after a user corrects it.
func (s *PostgresStorage) UpdateTransactionCategory(ctx context.Context, userID, id, category string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(category, "category"); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET category = $1, source = $2, confidence = 1
		WHERE user_id = $3 AND id = $4
	`, category, string(model.SourceUserMapping), userID, id)
	if err != nil {
		return fmt.Errorf("failed to update transaction category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// Summarize totals a user's expenses by category for the filter.
func (s *PostgresStorage) Summarize(ctx context.Context, userID string, filter model.QueryFilter) (*model.SpendingSummary, error) {
	txns, err := s.ListTransactions(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	return SummarizeTransactions(txns, filter), nil
}

const pgTransactionSelect = `
	SELECT id, user_id, hash, kind, amount, merchant, category, note, source,
		document_id, confidence, occurred_at, created_at
	FROM transactions`

func pgScanTransaction(row pgx.Row) (*model.Transaction, error) {
	var txn model.Transaction
	var kind, amount string
	var merchant, category, note, source, documentID *string

	err := row.Scan(&txn.ID, &txn.UserID, &txn.Hash, &kind, &amount, &merchant, &category,
		&note, &source, &documentID, &txn.Confidence, &txn.OccurredAt, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if txn.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid transaction amount %q: %w", amount, err)
	}
	txn.Kind = model.IntentKind(kind)
	txn.Merchant = deref(merchant)
	txn.Category = deref(category)
	txn.Note = deref(note)
	txn.Source = model.CategorizationSource(deref(source))
	txn.DocumentID = deref(documentID)
	return &txn, nil
}

// LoadCategoryMappings returns every category mapping owned by a user.
func (s *PostgresStorage) LoadCategoryMappings(ctx context.Context, userID string) ([]model.CategoryMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	return pgLoadCategoryMappings(ctx, s.pool, userID)
}

// SaveCategoryMappings upserts the given mappings for a user.
func (s *PostgresStorage) SaveCategoryMappings(ctx context.Context, userID string, mappings []model.CategoryMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMappings(userID, mappings); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return pgSaveCategoryMappings(ctx, tx, mappings)
	})
}

// AppendLearningEvent records a confirmation or correction in the audit log.
func (s *PostgresStorage) AppendLearningEvent(ctx context.Context, event *model.LearningEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLearningEvent(event); err != nil {
		return err
	}
	return pgAppendLearningEvent(ctx, s.pool, event)
}

// ListLearningEvents returns the most recent learning events for a user, newest first.
func (s *PostgresStorage) ListLearningEvents(ctx context.Context, userID string, limit int) ([]model.LearningEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return pgListLearningEvents(ctx, s.pool, userID, limit)
}

func pgLoadCategoryMappings(ctx context.Context, q pgQueryable, userID string) ([]model.CategoryMapping, error) {
	rows, err := q.Query(ctx, `
		SELECT user_id, scope, key, category, weight, observation_count, corrections, updated_at
		FROM category_mappings
		WHERE user_id = $1
		ORDER BY scope, key, category
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query category mappings: %w", err)
	}
	defer rows.Close()

	var mappings []model.CategoryMapping
	for rows.Next() {
		var m model.CategoryMapping
		var scope string
		if err := rows.Scan(&m.UserID, &scope, &m.Key, &m.Category, &m.Weight,
			&m.ObservationCount, &m.Corrections, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category mapping: %w", err)
		}
		m.Scope = model.MappingScope(scope)
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func pgSaveCategoryMappings(ctx context.Context, q pgQueryable, mappings []model.CategoryMapping) error {
	for i := range mappings {
		m := &mappings[i]
		updated := m.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		_, err := q.Exec(ctx, `
			INSERT INTO category_mappings
				(user_id, scope, key, category, weight, observation_count, corrections, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, scope, key, category) DO UPDATE SET
				weight = EXCLUDED.weight,
				observation_count = EXCLUDED.observation_count,
				corrections = EXCLUDED.corrections,
				updated_at = EXCLUDED.updated_at
		`, m.UserID, string(m.Scope), m.Key, m.Category, m.Weight,
			m.ObservationCount, m.Corrections, updated.UTC())
		if err != nil {
			return fmt.Errorf("failed to save category mapping %s/%s: %w", m.Scope, m.Key, err)
		}
	}
	return nil
}

func pgAppendLearningEvent(ctx context.Context, q pgQueryable, event *model.LearningEvent) error {
	created := event.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO category_mapping_events
			(user_id, category, previous_category, merchant, amount_bucket, keywords, confirmed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, event.UserID, event.Category, event.PreviousCategory, event.Merchant,
		event.AmountBucket, strings.Join(event.Keywords, ","), event.Confirmed, created.UTC()).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to append learning event: %w", err)
	}
	event.CreatedAt = created
	return nil
}

func pgListLearningEvents(ctx context.Context, q pgQueryable, userID string, limit int) ([]model.LearningEvent, error) {
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.Query(ctx, `
		SELECT id, user_id, category, previous_category, merchant, amount_bucket, keywords, confirmed, created_at
		FROM category_mapping_events
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query learning events: %w", err)
	}
	defer rows.Close()

	var events []model.LearningEvent
	for rows.Next() {
		var e model.LearningEvent
		var previous, merchant, bucket, keywords *string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Category, &previous, &merchant,
			&bucket, &keywords, &e.Confirmed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan learning event: %w", err)
		}
		e.PreviousCategory = deref(previous)
		e.Merchant = deref(merchant)
		e.AmountBucket = deref(bucket)
		if kw := deref(keywords); kw != "" {
			e.Keywords = strings.Split(kw, ",")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetSession loads a conversation session.
func (s *PostgresStorage) GetSession(ctx context.Context, userID, sessionID string) (*model.ConversationSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM conversation_sessions WHERE user_id = $1 AND id = $2`,
		userID, sessionID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session model.ConversationSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// SaveSession upserts a conversation session.
func (s *PostgresStorage) SaveSession(ctx context.Context, session *model.ConversationSession) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSession(session); err != nil {
		return err
	}

	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now()
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversation_sessions (user_id, id, state, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, id) DO UPDATE SET
			state = EXCLUDED.state,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, session.UserID, session.ID, string(session.State), string(payload), session.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *PostgresStorage) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_sessions WHERE user_id = $1 AND id = $2`, userID, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
