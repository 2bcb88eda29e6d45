package engine

import (
	"context"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/chatfin/internal/classifier"
	"github.com/Veraticus/chatfin/internal/learner"
	"github.com/Veraticus/chatfin/internal/model"
)

type stubModel map[string]float64

func (s stubModel) Predict(string) map[string]float64 {
	out := make(map[string]float64, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func (s stubModel) Categories() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newCategorizer(t *testing.T, global GlobalModel, cfg Config) *Categorizer {
	t.Helper()
	c, err := New(global, cfg)
	require.NoError(t, err)
	return c
}

func snapshot(mappings ...model.CategoryMapping) *learner.Context {
	for i := range mappings {
		mappings[i].UserID = "u1"
	}
	return learner.NewContext("u1", mappings, learner.DefaultConfig())
}

func merchantMapping(key, category string, weight float64, observations int) model.CategoryMapping {
	return model.CategoryMapping{
		Scope:            model.ScopeMerchant,
		Key:              key,
		Category:         category,
		Weight:           weight,
		ObservationCount: observations,
	}
}

func TestCategorize_NewUserFollowsGlobalModel(t *testing.T) {
	c := newCategorizer(t, classifier.DefaultModel(), DefaultConfig())

	result := c.Categorize(snapshot(), "spent 500 on food", "Swiggy", nil)

	assert.Equal(t, "Food", result.Category)
	assert.Equal(t, model.SourceGlobalModel, result.Source)
	assert.True(t, result.AutoApplicable)
	assert.Greater(t, result.Confidence, 0.9)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "Food", result.Candidates[0].Category)
	assert.InDelta(t, 1.0, result.Candidates[0].Alpha, 1e-9)
	assert.Len(t, result.Explanation, len(classifier.BaseKnowledge))
}

func TestCategorize_LowConfidenceIsNotAutoApplicable(t *testing.T) {
	c := newCategorizer(t, classifier.DefaultModel(), DefaultConfig())

	result := c.Categorize(nil, "xyzzy plugh", "", nil)

	assert.False(t, result.AutoApplicable)
	assert.Equal(t, model.SourceFused, result.Source)
	assert.Less(t, result.Confidence, 0.5)
	assert.Len(t, result.Candidates, 2)
	assert.InDelta(t, 0.5, result.Threshold, 1e-9)
}

func TestCategorize_ExperiencedUserMappingWins(t *testing.T) {
	c := newCategorizer(t, classifier.DefaultModel(), DefaultConfig())
	lc := snapshot(merchantMapping("corner shop", "Groceries", 10, 10))

	result := c.Categorize(lc, "corner shop", "Corner Shop", nil)

	assert.Equal(t, "Groceries", result.Category)
	assert.Equal(t, model.SourceFused, result.Source)
	assert.True(t, result.AutoApplicable)

	top := result.Explanation.Find("Groceries")
	require.NotNil(t, top)
	assert.InDelta(t, 0.35, top.Alpha, 1e-9)
	assert.InDelta(t, 10.0/11.0, top.User, 1e-9)
	assert.InDelta(t, 10.0, top.ScopeWeights[model.ScopeMerchant], 1e-9)
}

func TestCategorize_UserOnlyCategory(t *testing.T) {
	c := newCategorizer(t, classifier.DefaultModel(), DefaultConfig())
	lc := snapshot(merchantMapping("gym", "Fitness", 10, 10))

	result := c.Categorize(lc, "paid gym fees", "Gym", nil)

	assert.Equal(t, "Fitness", result.Category)
	assert.Equal(t, model.SourceUserMapping, result.Source)
	assert.True(t, result.AutoApplicable)
	assert.Zero(t, result.Explanation.Find("Fitness").Global)
	assert.Contains(t, c.KnownCategories(lc), "Fitness")
	assert.Contains(t, c.KnownCategories(lc), "Food")
}

func TestCategorize_Idempotent(t *testing.T) {
	c := newCategorizer(t, classifier.DefaultModel(), DefaultConfig())
	lc := snapshot(
		merchantMapping("dmart", "Groceries", 4, 4),
		model.CategoryMapping{Scope: model.ScopeKeyword, Key: "snacks", Category: "Food", Weight: 2, ObservationCount: 2},
	)
	amount := decimal.NewFromInt(640)

	first := c.Categorize(lc, "bought snacks at dmart", "Dmart", &amount)
	second := c.Categorize(lc, "bought snacks at dmart", "Dmart", &amount)

	assert.Equal(t, first, second)
}

func TestCategorize_MonotonicInUserWeight(t *testing.T) {
	alpha := 0.5
	cfg := DefaultConfig()
	cfg.AlphaFixed = &alpha
	c := newCategorizer(t, stubModel{"Food": 0.3, "Groceries": 0.7}, cfg)

	previous := -1.0
	for w := 1.0; w <= 6; w++ {
		lc := snapshot(
			merchantMapping("dmart", "Food", w, int(w)),
			merchantMapping("dmart", "Groceries", 3, 3),
		)
		result := c.Categorize(lc, "dmart", "Dmart", nil)
		food := result.Explanation.Find("Food")
		require.NotNil(t, food)
		assert.Greater(t, food.Score, previous, "weight %.0f", w)
		previous = food.Score
	}
}

func TestCategorize_ConfirmationsNeverLowerScore(t *testing.T) {
	tests := []struct {
		name     string
		global   GlobalModel
		text     string
		merchant string
		key      string
		// strict requires every confirmation to raise the score.
		strict bool
	}{
		{
			name:     "model already confident",
			global:   classifier.DefaultModel(),
			text:     "spent 500 on food",
			merchant: "Swiggy",
			key:      "swiggy",
		},
		{
			name:     "model unsure",
			global:   stubModel{"Food": 0.3, "Groceries": 0.7},
			text:     "dmart",
			merchant: "Dmart",
			key:      "dmart",
			strict:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCategorizer(t, tt.global, DefaultConfig())

			base := c.Categorize(snapshot(), tt.text, tt.merchant, nil).Explanation.Find("Food")
			require.NotNil(t, base)
			previous := base.Score

			for n := 1; n <= 10; n++ {
				lc := snapshot(merchantMapping(tt.key, "Food", float64(n), n))
				food := c.Categorize(lc, tt.text, tt.merchant, nil).Explanation.Find("Food")
				require.NotNil(t, food)
				if tt.strict {
					assert.Greater(t, food.Score, previous, "confirmations %d", n)
				} else {
					assert.GreaterOrEqual(t, food.Score, previous, "confirmations %d", n)
				}
				previous = food.Score
			}
		})
	}
}

func TestCategorize_EmptyModelAndHistory(t *testing.T) {
	c := newCategorizer(t, stubModel{}, DefaultConfig())

	result := c.Categorize(nil, "anything", "", nil)

	assert.True(t, result.Empty())
	assert.False(t, result.AutoApplicable)
}

func TestConfig_Alpha(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		observations int
		want         float64
	}{
		{0, 1.0},
		{5, 0.675},
		{10, 0.35},
		{25, 0.35},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, cfg.Alpha(tt.observations), 1e-9, "observations %d", tt.observations)
	}

	fixed := 0.2
	cfg.AlphaFixed = &fixed
	assert.InDelta(t, 0.2, cfg.Alpha(0), 1e-9)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		mutate func(*Config)
		name   string
	}{
		{name: "alpha above one", mutate: func(c *Config) { c.AlphaNew = 1.5 }},
		{name: "zero smoothing", mutate: func(c *Config) { c.Smoothing = 0 }},
		{name: "negative threshold", mutate: func(c *Config) { c.Threshold = -0.1 }},
		{name: "no ramp", mutate: func(c *Config) { c.ExperiencedAfter = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(classifier.DefaultModel(), cfg)
			assert.Error(t, err)
		})
	}

	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestCategorizeBatch(t *testing.T) {
	c := newCategorizer(t, classifier.DefaultModel(), DefaultConfig())
	txns := []model.Transaction{
		{ID: "1", Merchant: "Swiggy", Note: "food order", Amount: decimal.NewFromInt(300)},
		{ID: "2", Merchant: "swiggy ", Note: "food order", Amount: decimal.NewFromInt(450)},
		{ID: "3", Merchant: "Uber", Note: "cab ride", Amount: decimal.NewFromInt(200)},
		{ID: "4", Merchant: "", Note: "mystery charge", Amount: decimal.NewFromInt(99)},
	}

	var progress []int
	opts := DefaultBatchOptions()
	opts.ParallelWorkers = 1
	opts.Progress = func(done, _ int) { progress = append(progress, done) }

	results, summary, err := c.CategorizeBatch(context.Background(), nil, txns, opts)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "swiggy", results[0].Merchant)
	assert.Len(t, results[0].Transactions, 2)
	assert.Equal(t, "Food", results[0].Transactions[1].Category)
	assert.Equal(t, "Travel", results[2].Result.Category)

	assert.Equal(t, 3, summary.TotalMerchants)
	assert.Equal(t, 4, summary.TotalTransactions)
	assert.Equal(t, 2, summary.AutoAppliedCount)
	assert.Equal(t, 1, summary.NeedsReviewCount)
	assert.Equal(t, []int{1, 2, 3}, progress)
}

func TestCategorizeBatch_Cancelled(t *testing.T) {
	c := newCategorizer(t, classifier.DefaultModel(), DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.CategorizeBatch(ctx, nil, []model.Transaction{{ID: "1", Merchant: "x"}}, DefaultBatchOptions())
	assert.ErrorIs(t, err, context.Canceled)
}
