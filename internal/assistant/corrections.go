package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/chatfin/internal/learner"
	"github.com/Veraticus/chatfin/internal/model"
)

// CorrectDocument changes a receipt's category and teaches the learner that
// the previous category was wrong.
func (s *Service) CorrectDocument(ctx context.Context, userID, documentID, category string) error {
	category = learner.NormalizeCategory(category)
	if category == "" {
		return fmt.Errorf("correction requires a category")
	}

	doc, err := s.deps.Storage.GetDocument(ctx, userID, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	previous := doc.Category
	if err := s.deps.Storage.UpdateDocumentCategory(ctx, userID, documentID, category); err != nil {
		return err
	}

	amount := doc.Amount()
	obs := model.Observation{
		UserID:           userID,
		Category:         category,
		PreviousCategory: previous,
		Merchant:         doc.Merchant,
		Text:             documentText(doc),
		Amount:           &amount,
	}
	if err := s.deps.Learner.Record(ctx, obs); err != nil {
		return fmt.Errorf("failed to record correction: %w", err)
	}

	if s.deps.Index.HasUser(userID) {
		doc.Category = category
		if err := s.deps.Index.Index(*doc); err != nil {
			return fmt.Errorf("failed to reindex document %s: %w", documentID, err)
		}
	}

	slog.Info("Corrected document category",
		"user_id", userID,
		"document_id", documentID,
		"from", previous,
		"to", category)
	return nil
}

// CorrectTransaction changes a transaction's category and teaches the
// learner that the previous category was wrong.
func (s *Service) CorrectTransaction(ctx context.Context, userID, transactionID, category string) error {
	category = learner.NormalizeCategory(category)
	if category == "" {
		return fmt.Errorf("correction requires a category")
	}

	txn, err := s.deps.Storage.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}
	if err := s.deps.Storage.UpdateTransactionCategory(ctx, userID, transactionID, category); err != nil {
		return err
	}

	amount := txn.Amount
	obs := model.Observation{
		UserID:           userID,
		Category:         category,
		PreviousCategory: txn.Category,
		Merchant:         txn.Merchant,
		Text:             txn.Note,
		Amount:           &amount,
	}
	if err := s.deps.Learner.Record(ctx, obs); err != nil {
		return fmt.Errorf("failed to record correction: %w", err)
	}

	slog.Info("Corrected transaction category",
		"user_id", userID,
		"transaction_id", transactionID,
		"from", txn.Category,
		"to", category)
	return nil
}
