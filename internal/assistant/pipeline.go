package assistant

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/chatfin/internal/model"
)

// ParseIntent reads one utterance.
func (s *Service) ParseIntent(utterance string) model.ParsedIntent {
	return s.deps.Parser.Parse(utterance)
}

// StructureDocument structures recognized text without persisting it.
func (s *Service) StructureDocument(rawText string, tokens []model.OCRToken) model.StructuredDocument {
	return s.deps.Structurer.Structure(rawText, tokens)
}

// Categorize scores text and merchant against the user's learned mappings.
func (s *Service) Categorize(ctx context.Context, userID, text, merchant string, amount *decimal.Decimal) (model.CategorizationResult, error) {
	lc, err := s.deps.Learner.Context(ctx, userID)
	if err != nil {
		return model.CategorizationResult{}, fmt.Errorf("failed to load learner context: %w", err)
	}
	return s.deps.Categorizer.Categorize(lc, text, merchant, amount), nil
}
