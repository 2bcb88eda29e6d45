package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryRankings_Sort(t *testing.T) {
	rankings := CategoryRankings{
		{Category: "Fuel", Score: 0.5},
		{Category: "Food", Score: 0.8},
		{Category: "Travel", Score: 0.3},
		{Category: "Bills", Score: 0.8},
	}

	rankings.Sort()

	var got []string
	for _, r := range rankings {
		got = append(got, r.Category)
	}
	assert.Equal(t, []string{"Bills", "Food", "Fuel", "Travel"}, got)
}

func TestCategoryRankings_Top(t *testing.T) {
	assert.Nil(t, CategoryRankings{}.Top())

	rankings := CategoryRankings{
		{Category: "B", Score: 0.5},
		{Category: "A", Score: 0.9},
		{Category: "C", Score: 0.3},
	}
	top := rankings.Top()
	require.NotNil(t, top)
	assert.Equal(t, "A", top.Category)
}

func TestCategoryRankings_TopN(t *testing.T) {
	rankings := CategoryRankings{
		{Category: "A", Score: 0.9},
		{Category: "B", Score: 0.7},
		{Category: "C", Score: 0.5},
		{Category: "D", Score: 0.3},
	}

	tests := []struct {
		name  string
		first string
		last  string
		n     int
		count int
	}{
		{name: "zero", n: 0, count: 0},
		{name: "negative", n: -1, count: 0},
		{name: "top 2", n: 2, count: 2, first: "A", last: "B"},
		{name: "top more than exists", n: 10, count: 4, first: "A", last: "D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rankings.TopN(tt.n)
			require.Len(t, got, tt.count)
			if tt.count > 0 {
				assert.Equal(t, tt.first, got[0].Category)
				assert.Equal(t, tt.last, got[len(got)-1].Category)
			}
		})
	}
}

func TestCategoryRankings_Find(t *testing.T) {
	rankings := CategoryRankings{
		{Category: "A", Score: 0.9},
		{Category: "B", Score: 0.5},
		{Category: "C", Score: 0.2},
	}

	assert.Nil(t, rankings.Find("Z"))
	found := rankings.Find("C")
	require.NotNil(t, found)
	assert.InDelta(t, 0.2, found.Score, 1e-9)
}
