package model

import "github.com/shopspring/decimal"

// IntentKind is the coarse meaning of an utterance.
type IntentKind string

// Intent kinds.
const (
	IntentExpense IntentKind = "expense"
	IntentIncome  IntentKind = "income"
	IntentSaving  IntentKind = "saving"
	IntentQuery   IntentKind = "query"
	IntentUnknown IntentKind = "unknown"
)

// IsTransaction reports whether the intent records money movement.
func (k IntentKind) IsTransaction() bool {
	return k == IntentExpense || k == IntentIncome || k == IntentSaving
}

// TimeRange is a relative period named in an utterance.
type TimeRange string

// Supported time ranges.
const (
	RangeNone      TimeRange = ""
	RangeToday     TimeRange = "today"
	RangeYesterday TimeRange = "yesterday"
	RangeThisWeek  TimeRange = "this_week"
	RangeLastWeek  TimeRange = "last_week"
	RangeThisMonth TimeRange = "this_month"
	RangeLastMonth TimeRange = "last_month"
	RangeThisYear  TimeRange = "this_year"
)

// ParsedIntent is the structured reading of a single utterance.
// It is never mutated after the parser returns it.
type ParsedIntent struct {
	Amount       *decimal.Decimal
	Kind         IntentKind
	MerchantHint string
	CategoryHint string
	TimeRange    TimeRange
	Trigger      string
	RawText      string
	Issues       []Issue
	Confidence   float64
}

// HasAmount reports whether an amount was extracted.
func (p ParsedIntent) HasAmount() bool {
	return p.Amount != nil
}
