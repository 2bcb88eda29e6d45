package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/chatfin/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidDocument    = errors.New("invalid document")
	ErrInvalidMapping     = errors.New("invalid category mapping")
	ErrInvalidSession     = errors.New("invalid conversation session")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if err := txn.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	return nil
}

func validateDocument(doc *model.StructuredDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: document", ErrNilParameter)
	}
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.UserID) == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidDocument)
	}
	for i := range doc.Items {
		if err := doc.Items[i].Validate(); err != nil {
			return fmt.Errorf("%w: item %d: %v", ErrInvalidDocument, i, err)
		}
	}
	return nil
}

func validateMappings(userID string, mappings []model.CategoryMapping) error {
	if err := validateString(userID, "userID"); err != nil {
		return err
	}
	for i := range mappings {
		if mappings[i].UserID != userID {
			return fmt.Errorf("%w: mapping %d belongs to %q", ErrInvalidMapping, i, mappings[i].UserID)
		}
		if err := mappings[i].Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMapping, err)
		}
	}
	return nil
}

func validateLearningEvent(event *model.LearningEvent) error {
	if event == nil {
		return fmt.Errorf("%w: learning event", ErrNilParameter)
	}
	if err := validateString(event.UserID, "userID"); err != nil {
		return err
	}
	return validateString(event.Category, "category")
}

func validateSession(session *model.ConversationSession) error {
	if session == nil {
		return fmt.Errorf("%w: session", ErrNilParameter)
	}
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.UserID) == "" {
		return fmt.Errorf("%w: missing ID or user", ErrInvalidSession)
	}
	return nil
}
