package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MappingScope is the feature a learned mapping is keyed on.
type MappingScope string

// Mapping scopes, in descending priority.
const (
	ScopeMerchant     MappingScope = "merchant"
	ScopeKeyword      MappingScope = "keyword"
	ScopeAmountBucket MappingScope = "amount_bucket"
)

// Priority orders scopes for tie-breaking; lower wins.
func (s MappingScope) Priority() int {
	switch s {
	case ScopeMerchant:
		return 0
	case ScopeKeyword:
		return 1
	case ScopeAmountBucket:
		return 2
	default:
		return 3
	}
}

// Valid reports whether s is a known scope.
func (s MappingScope) Valid() bool {
	return s.Priority() < 3
}

// CategoryMapping is a learned association between one feature and a category for one user.
type CategoryMapping struct {
	UpdatedAt        time.Time
	UserID           string
	Scope            MappingScope
	Key              string
	Category         string
	Weight           float64
	ObservationCount int
	Corrections      int
}

// Validate checks the mapping invariants.
func (m *CategoryMapping) Validate() error {
	if m.UserID == "" || m.Key == "" || m.Category == "" {
		return fmt.Errorf("mapping requires user, key and category")
	}
	if !m.Scope.Valid() {
		return fmt.Errorf("unknown mapping scope %q", m.Scope)
	}
	if m.Weight < 0 {
		return fmt.Errorf("mapping weight must be non-negative, got %.2f", m.Weight)
	}
	if m.ObservationCount < 0 {
		return fmt.Errorf("observation count must be non-negative, got %d", m.ObservationCount)
	}
	return nil
}

// MappingKey identifies a mapping within one user's table.
type MappingKey struct {
	Scope    MappingScope
	Key      string
	Category string
}

// MapKey returns the identity of m within its user's table.
func (m *CategoryMapping) MapKey() MappingKey {
	return MappingKey{Scope: m.Scope, Key: m.Key, Category: m.Category}
}

// Observation is a user-confirmed or corrected categorization fed to the learner.
type Observation struct {
	Amount           *decimal.Decimal
	UserID           string
	Category         string
	PreviousCategory string
	Merchant         string
	Text             string
	Keywords         []string
	Confirmed        bool
}

// LearningEvent is the audit record of one observation.
type LearningEvent struct {
	CreatedAt        time.Time
	UserID           string
	Category         string
	PreviousCategory string
	Merchant         string
	AmountBucket     string
	Keywords         []string
	ID               int64
	Confirmed        bool
}

// WeightedCategory is a category with the aggregated weight of all matching mappings.
type WeightedCategory struct {
	ScopeWeights map[MappingScope]float64
	Category     string
	BestScope    MappingScope
	Weight       float64
	Observations int
}
