// Package assistant wires the pipeline components to persistence and exposes
// the operations the CLI and other front ends call.
package assistant

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/chatfin/internal/conversation"
	"github.com/Veraticus/chatfin/internal/document"
	"github.com/Veraticus/chatfin/internal/engine"
	"github.com/Veraticus/chatfin/internal/intent"
	"github.com/Veraticus/chatfin/internal/learner"
	"github.com/Veraticus/chatfin/internal/ofx"
	"github.com/Veraticus/chatfin/internal/search"
	"github.com/Veraticus/chatfin/internal/service"
)

// Deps contains all dependencies required by the assistant.
type Deps struct {
	// Storage persists documents, transactions and learned mappings.
	Storage service.Storage
	// Sessions keeps conversation state between turns.
	Sessions service.SessionStore
	// Analytics answers spending queries.
	Analytics service.Analytics
	// OCR recognizes receipt images. Optional; IngestDocument fails without it.
	OCR service.OCRProvider
	// Learner owns per-user category mappings.
	Learner *learner.Learner
	// Parser reads utterances.
	Parser *intent.Parser
	// Structurer turns receipt text into documents.
	Structurer *document.Structurer
	// Categorizer fuses the global model with learned mappings.
	Categorizer *engine.Categorizer
	// Machine runs the clarification dialogue.
	Machine *conversation.Machine
	// Index ranks documents for search.
	Index *search.Index
	// Statements parses OFX files. Optional; a default parser is used when nil.
	Statements *ofx.Parser
}

// Validate ensures all required dependencies are provided.
func (d *Deps) Validate() error {
	if d.Storage == nil {
		return fmt.Errorf("storage dependency is required")
	}
	if d.Sessions == nil {
		return fmt.Errorf("session store dependency is required")
	}
	if d.Analytics == nil {
		return fmt.Errorf("analytics dependency is required")
	}
	if d.Learner == nil {
		return fmt.Errorf("learner dependency is required")
	}
	if d.Parser == nil {
		return fmt.Errorf("parser dependency is required")
	}
	if d.Structurer == nil {
		return fmt.Errorf("structurer dependency is required")
	}
	if d.Categorizer == nil {
		return fmt.Errorf("categorizer dependency is required")
	}
	if d.Machine == nil {
		return fmt.Errorf("conversation machine dependency is required")
	}
	if d.Index == nil {
		return fmt.Errorf("search index dependency is required")
	}
	return nil
}

// Service implements the pipeline's external operations. Conversation turns
// are serialized per (user, session); index loads per user.
type Service struct {
	locks *keyedLocks
	now   func() time.Time
	newID func() string
	deps  Deps
}

// New creates a Service with the provided dependencies.
func New(deps Deps) (*Service, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if deps.Statements == nil {
		deps.Statements = ofx.NewParser()
	}
	return &Service{
		deps:  deps,
		locks: newKeyedLocks(),
		now:   time.Now,
		newID: uuid.NewString,
	}, nil
}
