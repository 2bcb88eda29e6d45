package model

import "sort"

// CategoryRanking is one scored candidate for a categorization, with the
// component scores that produced it.
type CategoryRanking struct {
	ScopeWeights map[MappingScope]float64
	Category     string
	Score        float64
	Global       float64
	User         float64
	Alpha        float64
}

// CategoryRankings is a slice of CategoryRanking that supports sorting and utility methods.
type CategoryRankings []CategoryRanking

// Len implements sort.Interface.
func (r CategoryRankings) Len() int {
	return len(r)
}

// Less implements sort.Interface - higher scores come first.
func (r CategoryRankings) Less(i, j int) bool {
	if r[i].Score != r[j].Score {
		return r[i].Score > r[j].Score
	}
	// Equal scores fall back to name so output is stable across runs
	return r[i].Category < r[j].Category
}

// Swap implements sort.Interface.
func (r CategoryRankings) Swap(i, j int) {
	r[i], r[j] = r[j], r[i]
}

// Sort sorts the rankings by score in descending order.
func (r CategoryRankings) Sort() {
	sort.Sort(r)
}

// Top returns the highest-scoring category, or nil if empty.
func (r CategoryRankings) Top() *CategoryRanking {
	if len(r) == 0 {
		return nil
	}
	r.Sort()
	return &r[0]
}

// TopN returns the N highest-scoring categories.
func (r CategoryRankings) TopN(n int) CategoryRankings {
	if n <= 0 {
		return CategoryRankings{}
	}

	r.Sort()

	if n > len(r) {
		n = len(r)
	}

	result := make(CategoryRankings, n)
	copy(result, r[:n])
	return result
}

// Find returns the ranking for category, or nil.
func (r CategoryRankings) Find(category string) *CategoryRanking {
	for i := range r {
		if r[i].Category == category {
			return &r[i]
		}
	}
	return nil
}
