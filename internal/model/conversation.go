package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionState is a state of the clarification dialogue.
type SessionState string

// Session states.
const (
	StateIdle          SessionState = "idle"
	StateParsing       SessionState = "parsing"
	StateNeedsInfo     SessionState = "needs_info"
	StateAwaitingReply SessionState = "awaiting_reply"
	StateComplete      SessionState = "complete"
	StateCancelled     SessionState = "cancelled"
)

// Terminal reports whether the state ends the dialogue.
func (s SessionState) Terminal() bool {
	return s == StateComplete || s == StateCancelled
}

// Slot is a piece of a pending transaction that may need clarification.
type Slot string

// Clarifiable slots.
const (
	SlotAmount   Slot = "amount"
	SlotCategory Slot = "category"
	SlotMerchant Slot = "merchant"
)

// PendingTransaction holds partially gathered transaction fields.
type PendingTransaction struct {
	Amount   *decimal.Decimal
	Kind     IntentKind
	Merchant string
	Category string
	Text     string
}

// ConversationSession is the full state of one dialogue. It is a plain value:
// the state machine receives one and returns a new one.
type ConversationSession struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Pending     *PendingTransaction
	LastIntent  *ParsedIntent
	ID          string
	UserID      string
	State       SessionState
	Missing     []Slot
	Suggestions []string
	TurnCount   int
}

// Clone returns a deep copy so callers never share mutable state.
func (s ConversationSession) Clone() ConversationSession {
	out := s
	if s.Pending != nil {
		p := *s.Pending
		if s.Pending.Amount != nil {
			a := *s.Pending.Amount
			p.Amount = &a
		}
		out.Pending = &p
	}
	if s.LastIntent != nil {
		li := *s.LastIntent
		li.Issues = append([]Issue(nil), s.LastIntent.Issues...)
		out.LastIntent = &li
	}
	out.Missing = append([]Slot(nil), s.Missing...)
	out.Suggestions = append([]string(nil), s.Suggestions...)
	return out
}

// IsMissing reports whether slot still needs a value.
func (s ConversationSession) IsMissing(slot Slot) bool {
	for _, m := range s.Missing {
		if m == slot {
			return true
		}
	}
	return false
}

// QueryFilter is a spending query handed to the analytics collaborator.
type QueryFilter struct {
	Start     *time.Time
	End       *time.Time
	Category  string
	Merchant  string
	TimeRange TimeRange
}

// Response is what the state machine says back after one turn.
type Response struct {
	Transaction    *Transaction
	Query          *QueryFilter
	Summary        *SpendingSummary
	Categorization *CategorizationResult
	Message        string
	State          SessionState
	Suggestions    []string
	Issues         []Issue
}
