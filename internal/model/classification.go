// Package model defines the core domain models used throughout the application.
package model

// CategorizationSource indicates which signal decided a categorization.
type CategorizationSource string

// Categorization source constants.
const (
	SourceGlobalModel CategorizationSource = "global_model"
	SourceUserMapping CategorizationSource = "user_mapping"
	SourceFused       CategorizationSource = "fused"
)

// CategorizationResult is the outcome of categorizing a transaction for a user.
type CategorizationResult struct {
	Category       string
	Source         CategorizationSource
	Candidates     CategoryRankings
	Explanation    CategoryRankings
	Confidence     float64
	Threshold      float64
	AutoApplicable bool
}

// Empty reports whether no category could be scored at all.
func (r CategorizationResult) Empty() bool {
	return r.Category == ""
}

// CandidateNames returns the candidate category names in rank order.
func (r CategorizationResult) CandidateNames() []string {
	names := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		names = append(names, c.Category)
	}
	return names
}
