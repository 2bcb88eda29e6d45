package learner

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
)

var keywordStopWords = map[string]struct{}{
	"spent": {}, "paid": {}, "bought": {}, "purchased": {}, "received": {}, "earned": {}, "saved": {},
	"with": {}, "from": {}, "this": {}, "that": {}, "these": {}, "have": {}, "were": {}, "what": {},
	"much": {}, "rupees": {}, "rupee": {}, "dollars": {}, "total": {}, "amount": {}, "today": {},
	"yesterday": {}, "week": {}, "month": {}, "year": {}, "some": {}, "just": {}, "about": {},
}

// Features are the lookup keys derived from one transaction.
type Features struct {
	Merchant     string
	AmountBucket string
	Keywords     []string
}

// scopeKey is one (scope, key) pair.
type scopeKey struct {
	scope model.MappingScope
	key   string
}

func (f Features) keys() []scopeKey {
	var keys []scopeKey
	if f.Merchant != "" {
		keys = append(keys, scopeKey{model.ScopeMerchant, f.Merchant})
	}
	for _, k := range f.Keywords {
		keys = append(keys, scopeKey{model.ScopeKeyword, k})
	}
	if f.AmountBucket != "" {
		keys = append(keys, scopeKey{model.ScopeAmountBucket, f.AmountBucket})
	}
	return keys
}

// NormalizeMerchant lower-cases a merchant name and drops punctuation.
func NormalizeMerchant(merchant string) string {
	return strings.Join(common.Tokenize(merchant), " ")
}

// Keywords extracts distinct lower-case words longer than three letters,
// skipping numbers and filler verbs.
func Keywords(text string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range common.Tokenize(text) {
		if len(w) <= 3 || common.IsNumeric(w) || seen[w] {
			continue
		}
		if _, stop := keywordStopWords[w]; stop {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// NormalizeCategory title-cases a category name and collapses whitespace.
func NormalizeCategory(category string) string {
	collapsed := strings.Join(strings.Fields(category), " ")
	return cases.Title(language.Und).String(strings.ToLower(collapsed))
}

// Bucket names the amount range an amount falls in. Boundaries must be ascending.
func Bucket(amount decimal.Decimal, boundaries []decimal.Decimal) string {
	lower := decimal.Zero
	for _, b := range boundaries {
		if amount.LessThan(b) {
			return lower.String() + "-" + b.String()
		}
		lower = b
	}
	return lower.String() + "+"
}
