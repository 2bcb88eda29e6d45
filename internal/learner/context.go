package learner

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/chatfin/internal/model"
)

// Context is an immutable snapshot of one user's learned mappings. Lookups
// against a Context are deterministic and need no locking.
type Context struct {
	byKey      map[scopeKey][]model.CategoryMapping
	totals     map[string]float64
	UserID     string
	cfg        Config
	categories []string
}

// NewContext builds a snapshot from mappings.
func NewContext(userID string, mappings []model.CategoryMapping, cfg Config) *Context {
	c := &Context{
		UserID: userID,
		cfg:    cfg,
		byKey:  make(map[scopeKey][]model.CategoryMapping),
		totals: make(map[string]float64),
	}
	for _, m := range mappings {
		k := scopeKey{m.Scope, m.Key}
		c.byKey[k] = append(c.byKey[k], m)
		if _, seen := c.totals[m.Category]; !seen {
			c.categories = append(c.categories, m.Category)
		}
		c.totals[m.Category] += m.Weight
	}
	sort.Strings(c.categories)
	return c
}

// Empty reports whether the user has no learned mappings.
func (c *Context) Empty() bool {
	return len(c.byKey) == 0
}

// Categories returns every category the user has mappings for, sorted.
func (c *Context) Categories() []string {
	return append([]string(nil), c.categories...)
}

// TotalWeight returns the summed weight of all mappings for category.
func (c *Context) TotalWeight(category string) float64 {
	return c.totals[category]
}

// Extract derives lookup features using this context's configuration.
func (c *Context) Extract(merchant, text string, amount *decimal.Decimal) Features {
	return c.cfg.extract(merchant, text, amount)
}

// Lookup aggregates every mapping that matches the features into one
// weight per category. Each scope contributes weight times its scope factor.
// Results are ordered by weight, then by the strongest matching scope, then
// by name.
func (c *Context) Lookup(f Features) []model.WeightedCategory {
	agg := make(map[string]*model.WeightedCategory)
	for _, k := range f.keys() {
		factor := c.cfg.ScopeFactors[k.scope]
		for _, m := range c.byKey[k] {
			if m.Weight <= 0 {
				continue
			}
			wc, ok := agg[m.Category]
			if !ok {
				wc = &model.WeightedCategory{
					Category:     m.Category,
					BestScope:    m.Scope,
					ScopeWeights: make(map[model.MappingScope]float64),
				}
				agg[m.Category] = wc
			}
			wc.Weight += m.Weight * factor
			wc.ScopeWeights[m.Scope] += m.Weight
			if m.Scope.Priority() < wc.BestScope.Priority() {
				wc.BestScope = m.Scope
			}
			if m.ObservationCount > wc.Observations {
				wc.Observations = m.ObservationCount
			}
		}
	}

	out := make([]model.WeightedCategory, 0, len(agg))
	for _, wc := range agg {
		out = append(out, *wc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		if pi, pj := out[i].BestScope.Priority(), out[j].BestScope.Priority(); pi != pj {
			return pi < pj
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// LookupText is Lookup over features extracted from raw inputs.
func (c *Context) LookupText(merchant, text string, amount *decimal.Decimal) []model.WeightedCategory {
	return c.Lookup(c.Extract(merchant, text, amount))
}
