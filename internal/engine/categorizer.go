// Package engine fuses the global text model with per-user learned mappings
// into one category decision.
package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/chatfin/internal/learner"
	"github.com/Veraticus/chatfin/internal/model"
)

// GlobalModel scores text against a fixed label set.
type GlobalModel interface {
	Predict(text string) map[string]float64
	Categories() []string
}

// Config holds the fusion parameters.
type Config struct {
	AlphaFixed       *float64
	AlphaNew         float64
	AlphaExperienced float64
	ExperiencedAfter int
	Smoothing        float64
	Threshold        float64
	Candidates       int
}

// DefaultConfig returns the default fusion parameters.
func DefaultConfig() Config {
	return Config{
		AlphaNew:         1.0,
		AlphaExperienced: 0.35,
		ExperiencedAfter: 10,
		Smoothing:        1.0,
		Threshold:        0.5,
		Candidates:       2,
	}
}

// Validate checks that the parameters describe a convex fusion.
func (c Config) Validate() error {
	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	if !inUnit(c.AlphaNew) || !inUnit(c.AlphaExperienced) {
		return fmt.Errorf("alpha values must be within [0,1], got %.2f and %.2f", c.AlphaNew, c.AlphaExperienced)
	}
	if c.AlphaFixed != nil && !inUnit(*c.AlphaFixed) {
		return fmt.Errorf("fixed alpha must be within [0,1], got %.2f", *c.AlphaFixed)
	}
	if c.ExperiencedAfter <= 0 {
		return fmt.Errorf("experienced_after must be positive, got %d", c.ExperiencedAfter)
	}
	if c.Smoothing <= 0 {
		return fmt.Errorf("smoothing must be positive, got %.2f", c.Smoothing)
	}
	if !inUnit(c.Threshold) {
		return fmt.Errorf("threshold must be within [0,1], got %.2f", c.Threshold)
	}
	return nil
}

// Alpha returns the global model's share for a category backed by n
// confirmed observations. It falls linearly from AlphaNew to AlphaExperienced
// over ExperiencedAfter observations.
func (c Config) Alpha(n int) float64 {
	if c.AlphaFixed != nil {
		return *c.AlphaFixed
	}
	progress := math.Min(float64(n)/float64(c.ExperiencedAfter), 1)
	if progress < 0 {
		progress = 0
	}
	return c.AlphaNew - (c.AlphaNew-c.AlphaExperienced)*progress
}

// Categorizer produces CategorizationResults. It holds no mutable state, so
// one instance serves all users concurrently.
type Categorizer struct {
	global GlobalModel
	cfg    Config
}

// New creates a Categorizer.
func New(global GlobalModel, cfg Config) (*Categorizer, error) {
	if global == nil {
		return nil, fmt.Errorf("categorizer requires a global model")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = 2
	}
	return &Categorizer{global: global, cfg: cfg}, nil
}

// Config returns the categorizer's parameters.
func (c *Categorizer) Config() Config {
	return c.cfg
}

// KnownCategories lists the model's labels plus every category the user
// has taught, without duplicates.
func (c *Categorizer) KnownCategories(lc *learner.Context) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	add(c.global.Categories())
	if lc != nil {
		add(lc.Categories())
	}
	return out
}

// Categorize scores every candidate category for the input. A nil learner
// context behaves like a user with no history.
func (c *Categorizer) Categorize(lc *learner.Context, text, merchant string, amount *decimal.Decimal) model.CategorizationResult {
	result := model.CategorizationResult{Threshold: c.cfg.Threshold}

	globalScores := c.global.Predict(globalText(text, merchant))

	var matches []model.WeightedCategory
	if lc != nil {
		matches = lc.LookupText(merchant, text, amount)
	}
	maxWeight := 0.0
	byCategory := make(map[string]model.WeightedCategory, len(matches))
	for _, m := range matches {
		byCategory[m.Category] = m
		maxWeight = math.Max(maxWeight, m.Weight)
	}

	rankings := make(model.CategoryRankings, 0, len(globalScores)+len(matches))
	for category, g := range globalScores {
		rankings = append(rankings, c.rank(category, g, byCategory[category], maxWeight))
	}
	for _, m := range matches {
		if _, ok := globalScores[m.Category]; ok {
			continue
		}
		rankings = append(rankings, c.rank(m.Category, 0, m, maxWeight))
	}
	best := rankings.Top()
	if best == nil {
		return result
	}
	top := *best

	result.Category = top.Category
	result.Confidence = top.Score
	result.Explanation = rankings
	result.Candidates = rankings.TopN(c.cfg.Candidates)
	result.AutoApplicable = top.Score >= c.cfg.Threshold
	result.Source = source(top, result.AutoApplicable, hasGlobal(globalScores, top.Category))

	return result
}

func (c *Categorizer) rank(category string, global float64, match model.WeightedCategory, maxWeight float64) model.CategoryRanking {
	user := 0.0
	if match.Weight > 0 {
		user = match.Weight / (maxWeight + c.cfg.Smoothing)
	}
	// Experience only shifts weight toward the user once their evidence is
	// at least as strong as the model's, so a confirmation never lowers the score.
	alpha := c.cfg.Alpha(0)
	if user >= global {
		alpha = c.cfg.Alpha(match.Observations)
	}
	score := alpha*global + (1-alpha)*user

	ranking := model.CategoryRanking{
		Category: category,
		Score:    math.Max(0, math.Min(1, score)),
		Global:   global,
		User:     user,
		Alpha:    alpha,
	}
	if len(match.ScopeWeights) > 0 {
		ranking.ScopeWeights = make(map[model.MappingScope]float64, len(match.ScopeWeights))
		for scope, w := range match.ScopeWeights {
			ranking.ScopeWeights[scope] = w
		}
	}
	return ranking
}

func source(top model.CategoryRanking, confident, inModel bool) model.CategorizationSource {
	switch {
	case !confident:
		return model.SourceFused
	case top.User == 0 || top.Alpha == 1:
		return model.SourceGlobalModel
	case !inModel || top.Alpha == 0:
		return model.SourceUserMapping
	default:
		return model.SourceFused
	}
}

func hasGlobal(scores map[string]float64, category string) bool {
	_, ok := scores[category]
	return ok
}

// globalText appends the merchant when the text does not already mention it.
func globalText(text, merchant string) string {
	merchant = strings.TrimSpace(merchant)
	if merchant == "" || strings.Contains(strings.ToLower(text), strings.ToLower(merchant)) {
		return text
	}
	return strings.TrimSpace(text + " " + merchant)
}
