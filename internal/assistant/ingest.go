package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/document"
	"github.com/Veraticus/chatfin/internal/model"
)

// IngestResult is the outcome of ingesting one receipt.
type IngestResult struct {
	Document       *model.StructuredDocument
	Categorization model.CategorizationResult
	// Transaction is set when the receipt was confident enough to record.
	Transaction *model.Transaction
	Duplicate   bool
}

// IngestDocument recognizes, structures, redacts, stores, indexes and
// categorizes a receipt. A receipt that reconciles and categorizes above the
// threshold is also recorded as an expense.
func (s *Service) IngestDocument(ctx context.Context, userID string, image io.Reader) (*IngestResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("ingest requires a user")
	}
	if s.deps.OCR == nil {
		return nil, fmt.Errorf("%w: no provider configured", common.ErrOCRUnavailable)
	}

	recognized, err := s.deps.OCR.Recognize(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("failed to recognize document: %w", err)
	}
	return s.IngestText(ctx, userID, recognized)
}

// IngestText runs the ingest pipeline over an OCR result that was produced
// elsewhere.
func (s *Service) IngestText(ctx context.Context, userID string, recognized *model.OCRResult) (*IngestResult, error) {
	if recognized == nil || strings.TrimSpace(recognized.Text) == "" {
		return nil, common.ErrEmptyDocument
	}

	doc := s.deps.Structurer.Structure(recognized.Text, recognized.Tokens)
	doc.ID = s.newID()
	doc.UserID = userID
	doc.OCREngine = recognized.Engine
	doc.CreatedAt = s.now()
	doc.RawText = document.Redact(doc.RawText)

	lc, err := s.deps.Learner.Context(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load learner context: %w", err)
	}
	amount := doc.Amount()
	result := s.deps.Categorizer.Categorize(lc, documentText(&doc), doc.Merchant, &amount)
	if result.AutoApplicable {
		doc.Category = result.Category
	}

	if err := s.deps.Storage.SaveDocument(ctx, &doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	if err := s.indexDocument(ctx, doc); err != nil {
		return nil, err
	}

	out := &IngestResult{Document: &doc, Categorization: result}

	if doc.Category != "" && !doc.NeedsReview && amount.IsPositive() {
		txn := s.documentTransaction(&doc, result)
		switch err := s.deps.Storage.SaveTransaction(ctx, txn); {
		case errors.Is(err, common.ErrDuplicateEntry):
			out.Duplicate = true
		case err != nil:
			return nil, fmt.Errorf("failed to save receipt transaction: %w", err)
		default:
			out.Transaction = txn
		}
	}

	slog.Info("Ingested document",
		"user_id", userID,
		"document_id", doc.ID,
		"merchant", doc.Merchant,
		"items", len(doc.Items),
		"category", doc.Category,
		"needs_review", doc.NeedsReview)

	return out, nil
}

func (s *Service) documentTransaction(doc *model.StructuredDocument, result model.CategorizationResult) *model.Transaction {
	occurred := doc.CreatedAt
	if doc.Date != nil {
		occurred = *doc.Date
	}
	txn := &model.Transaction{
		ID:         s.newID(),
		UserID:     doc.UserID,
		Kind:       model.IntentExpense,
		Amount:     doc.Amount(),
		Merchant:   doc.Merchant,
		Category:   doc.Category,
		Source:     result.Source,
		Confidence: result.Confidence,
		DocumentID: doc.ID,
		OccurredAt: occurred,
		CreatedAt:  doc.CreatedAt,
	}
	// Hashed before the note is set so a rescanned receipt is a duplicate.
	txn.Hash = txn.GenerateHash()
	txn.Note = fmt.Sprintf("receipt %s", doc.ID)
	return txn
}

// documentText is what the categorizer reads for a receipt: the merchant
// followed by item names.
func documentText(doc *model.StructuredDocument) string {
	parts := make([]string, 0, len(doc.Items)+1)
	if doc.Merchant != "" {
		parts = append(parts, doc.Merchant)
	}
	for _, item := range doc.Items {
		parts = append(parts, item.Name)
	}
	return strings.Join(parts, " ")
}
