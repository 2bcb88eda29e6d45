package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/chatfin/internal/model"
)

// LoadCategoryMappings returns every category mapping owned by a user.
func (s *SQLiteStorage) LoadCategoryMappings(ctx context.Context, userID string) ([]model.CategoryMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	return loadCategoryMappings(ctx, s.db, userID)
}

// SaveCategoryMappings upserts the given mappings for a user.
func (s *SQLiteStorage) SaveCategoryMappings(ctx context.Context, userID string, mappings []model.CategoryMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMappings(userID, mappings); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := saveCategoryMappings(ctx, tx, mappings); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendLearningEvent records a confirmation or correction in the audit log.
func (s *SQLiteStorage) AppendLearningEvent(ctx context.Context, event *model.LearningEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLearningEvent(event); err != nil {
		return err
	}
	return appendLearningEvent(ctx, s.db, event)
}

// ListLearningEvents returns the most recent learning events for a user, newest first.
func (s *SQLiteStorage) ListLearningEvents(ctx context.Context, userID string, limit int) ([]model.LearningEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return listLearningEvents(ctx, s.db, userID, limit)
}

func loadCategoryMappings(ctx context.Context, q queryable, userID string) ([]model.CategoryMapping, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id, scope, key, category, weight, observation_count, corrections, updated_at
		FROM category_mappings
		WHERE user_id = ?
		ORDER BY scope, key, category
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query category mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func saveCategoryMappings(ctx context.Context, q queryable, mappings []model.CategoryMapping) error {
	for i := range mappings {
		m := &mappings[i]
		updated := m.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO category_mappings
				(user_id, scope, key, category, weight, observation_count, corrections, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, scope, key, category) DO UPDATE SET
				weight = excluded.weight,
				observation_count = excluded.observation_count,
				corrections = excluded.corrections,
				updated_at = excluded.updated_at
		`, m.UserID, string(m.Scope), m.Key, m.Category, m.Weight,
			m.ObservationCount, m.Corrections, updated.UTC())
		if err != nil {
			return fmt.Errorf("failed to save category mapping %s/%s: %w", m.Scope, m.Key, err)
		}
	}
	return nil
}

func appendLearningEvent(ctx context.Context, q queryable, event *model.LearningEvent) error {
	created := event.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	result, err := q.ExecContext(ctx, `
		INSERT INTO category_mapping_events
			(user_id, category, previous_category, merchant, amount_bucket, keywords, confirmed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.UserID, event.Category, event.PreviousCategory, event.Merchant,
		event.AmountBucket, strings.Join(event.Keywords, ","), event.Confirmed, created.UTC())
	if err != nil {
		return fmt.Errorf("failed to append learning event: %w", err)
	}
	if id, idErr := result.LastInsertId(); idErr == nil {
		event.ID = id
	}
	event.CreatedAt = created
	return nil
}

func listLearningEvents(ctx context.Context, q queryable, userID string, limit int) ([]model.LearningEvent, error) {
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, category, previous_category, merchant, amount_bucket, keywords, confirmed, created_at
		FROM category_mapping_events
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query learning events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.LearningEvent
	for rows.Next() {
		var e model.LearningEvent
		var previous, merchant, bucket, keywords sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Category, &previous, &merchant,
			&bucket, &keywords, &e.Confirmed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan learning event: %w", err)
		}
		e.PreviousCategory = previous.String
		e.Merchant = merchant.String
		e.AmountBucket = bucket.String
		if keywords.String != "" {
			e.Keywords = strings.Split(keywords.String, ",")
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
