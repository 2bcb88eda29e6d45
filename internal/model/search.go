package model

import "time"

// IndexEntry is the retrieval view of one structured document.
type IndexEntry struct {
	IndexedAt     time.Time
	Date          *time.Time
	Terms         map[string]int
	MerchantTerms map[string]struct{}
	CategoryTerms map[string]struct{}
	DocumentID    string
	UserID        string
	Merchant      string
	Category      string
}

// DateRange is an inclusive date interval.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// SearchFilters narrows a search.
type SearchFilters struct {
	DateRange *DateRange
	Category  string
	Limit     int
}

// SearchResult is one ranked document.
type SearchResult struct {
	Date       *time.Time
	DocumentID string
	Merchant   string
	Category   string
	Score      float64
}
