// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"io"

	"github.com/Veraticus/chatfin/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	MappingStore

	// Document operations
	SaveDocument(ctx context.Context, doc *model.StructuredDocument) error
	GetDocument(ctx context.Context, userID, id string) (*model.StructuredDocument, error)
	LoadDocumentText(ctx context.Context, userID string) ([]model.StructuredDocument, error)
	UpdateDocumentCategory(ctx context.Context, userID, id, category string) error

	// Transaction operations
	SaveTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, userID, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, userID string, filter model.QueryFilter) ([]model.Transaction, error)
	UpdateTransactionCategory(ctx context.Context, userID, id, category string) error

	// Database management
	BeginTx(ctx context.Context) (Transaction, error)
	Migrate(ctx context.Context) error
	Close() error
}

// MappingStore persists the learner's per-user tables.
type MappingStore interface {
	LoadCategoryMappings(ctx context.Context, userID string) ([]model.CategoryMapping, error)
	SaveCategoryMappings(ctx context.Context, userID string, mappings []model.CategoryMapping) error
	AppendLearningEvent(ctx context.Context, event *model.LearningEvent) error
	ListLearningEvents(ctx context.Context, userID string, limit int) ([]model.LearningEvent, error)
}

// Transaction groups mapping writes so a learning step lands atomically,
// together with the money movement that confirmed it.
type Transaction interface {
	MappingStore
	SaveTransaction(ctx context.Context, txn *model.Transaction) error
	Commit() error
	Rollback() error
}

// Analytics answers spending queries.
type Analytics interface {
	Summarize(ctx context.Context, userID string, filter model.QueryFilter) (*model.SpendingSummary, error)
}

// SessionStore persists conversation sessions between turns.
type SessionStore interface {
	GetSession(ctx context.Context, userID, sessionID string) (*model.ConversationSession, error)
	SaveSession(ctx context.Context, session *model.ConversationSession) error
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

// OCRProvider recognizes text in an image.
type OCRProvider interface {
	Recognize(ctx context.Context, image io.Reader) (*model.OCRResult, error)
	Name() string
}
