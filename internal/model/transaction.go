package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a finalized money movement for a user.
type Transaction struct {
	OccurredAt time.Time
	CreatedAt  time.Time
	Amount     decimal.Decimal
	ID         string
	UserID     string
	Kind       IntentKind
	Merchant   string
	Category   string
	Note       string
	Source     CategorizationSource
	DocumentID string
	Hash       string
	Confidence float64
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s",
		t.UserID,
		t.OccurredAt.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		t.Merchant,
		t.Note)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Validate checks that the transaction can be persisted.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	if t.UserID == "" {
		return fmt.Errorf("transaction user is required")
	}
	if !t.Kind.IsTransaction() {
		return fmt.Errorf("transaction kind %q is not a money movement", t.Kind)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("transaction amount must be positive, got %s", t.Amount)
	}
	return nil
}

// SpendingSummary aggregates transactions for a query.
type SpendingSummary struct {
	Start      *time.Time
	End        *time.Time
	ByCategory map[string]decimal.Decimal
	Total      decimal.Decimal
	Count      int
}
