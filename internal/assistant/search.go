package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/chatfin/internal/model"
)

// SearchDocuments ranks the user's documents against query. The user's
// documents are loaded into the index on first use.
func (s *Service) SearchDocuments(ctx context.Context, userID, query string, filters model.SearchFilters) ([]model.SearchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("search requires a user")
	}
	if err := s.ensureIndexed(ctx, userID); err != nil {
		return nil, err
	}
	return s.deps.Index.Search(userID, query, filters), nil
}

func (s *Service) ensureIndexed(ctx context.Context, userID string) error {
	if s.deps.Index.HasUser(userID) {
		return nil
	}
	unlock := s.locks.index(userID)
	defer unlock()
	if s.deps.Index.HasUser(userID) {
		return nil
	}

	docs, err := s.deps.Storage.LoadDocumentText(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load documents for %s: %w", userID, err)
	}
	for _, doc := range docs {
		if err := s.deps.Index.Index(doc); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	s.deps.Index.MarkLoaded(userID)

	slog.Debug("Loaded search index", "user_id", userID, "documents", s.deps.Index.Len(userID))
	return nil
}

// indexDocument adds doc to a loaded index. Unloaded users pick it up from
// storage on their first search.
func (s *Service) indexDocument(ctx context.Context, doc model.StructuredDocument) error {
	if err := s.ensureIndexed(ctx, doc.UserID); err != nil {
		return err
	}
	if err := s.deps.Index.Index(doc); err != nil {
		return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
	}
	return nil
}
