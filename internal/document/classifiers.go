package document

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/chatfin/internal/model"
)

// Tolerance is the allowed absolute difference between an expected and an
// actual amount: the larger of Percent of the actual and Minimum.
type Tolerance struct {
	Minimum decimal.Decimal
	Percent float64
}

// For returns the allowed difference for a given total.
func (t Tolerance) For(total decimal.Decimal) decimal.Decimal {
	pct := total.Abs().Mul(decimal.NewFromFloat(t.Percent))
	if pct.GreaterThan(t.Minimum) {
		return pct
	}
	return t.Minimum
}

// Allows reports whether expected is within tolerance of actual.
func (t Tolerance) Allows(expected, actual decimal.Decimal) bool {
	return expected.Sub(actual).Abs().LessThanOrEqual(t.For(actual))
}

// LineMatch is the outcome of a classifier accepting a line.
type LineMatch struct {
	Item   model.Item
	Ignore bool
}

// LineClassifier decides whether a line is an item. The structurer tries
// classifiers in order; the first match wins and unmatched lines are header
// or footer text.
type LineClassifier interface {
	TryMatch(text string) (LineMatch, bool)
}

var summaryRe = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|total|grand\s+total|gst|igst|cgst|sgst|vat|tax(?:es)?|discount|savings|round(?:ed)?\s*off|rounding|service\s+charge|delivery\s+charge|payment|paid|change|cash|card|upi|balance|amount\s+due|net\s+amount|tendered)\b`)

// SummaryClassifier drops totals, taxes, discounts and tender rows so they are
// never counted as items.
type SummaryClassifier struct{}

// TryMatch implements LineClassifier.
func (SummaryClassifier) TryMatch(text string) (LineMatch, bool) {
	if summaryRe.MatchString(text) {
		return LineMatch{Ignore: true}, true
	}
	return LineMatch{}, false
}

// QuantityKeywordClassifier accepts lines such as "Milk 2 pcs 30.00 60.00" or
// "Bread qty:3 90". A single price is read as the line total.
type QuantityKeywordClassifier struct {
	Tolerance Tolerance
}

// TryMatch implements LineClassifier.
func (c QuantityKeywordClassifier) TryMatch(text string) (LineMatch, bool) {
	parts, ok := splitLine(text)
	if !ok || parts.qtyIndex < 0 {
		return LineMatch{}, false
	}

	qty, prices, ok := parts.quantityAndPrices()
	if !ok || !qty.IsPositive() {
		return LineMatch{}, false
	}

	item := model.Item{Name: parts.name, RawLine: text, Quantity: qty}
	switch len(prices) {
	case 1:
		item.LineTotal = prices[0]
		item.UnitPrice = prices[0].DivRound(qty, 2)
	case 2:
		item.UnitPrice = prices[0]
		item.LineTotal = prices[1]
		item.Mismatch = !c.Tolerance.Allows(qty.Mul(prices[0]), prices[1])
	default:
		return LineMatch{}, false
	}
	return LineMatch{Item: item}, true
}

// NumericTripleClassifier accepts "name qty [x] unit total" when qty*unit
// agrees with total.
type NumericTripleClassifier struct {
	Tolerance Tolerance
}

// TryMatch implements LineClassifier.
func (c NumericTripleClassifier) TryMatch(text string) (LineMatch, bool) {
	parts, ok := splitLine(text)
	if !ok || parts.qtyIndex >= 0 || len(parts.numbers) != 3 {
		return LineMatch{}, false
	}
	qty, unit, total := parts.numbers[0], parts.numbers[1], parts.numbers[2]
	if !qty.IsPositive() || !c.Tolerance.Allows(qty.Mul(unit), total) {
		return LineMatch{}, false
	}
	return LineMatch{Item: model.Item{
		Name:      parts.name,
		RawLine:   text,
		Quantity:  qty,
		UnitPrice: unit,
		LineTotal: total,
	}}, true
}

// PricedLineClassifier accepts "name 40.00" as a single unit. It requires a
// price written with two decimals or a currency mark so stray numbers in
// headers are not taken for items.
type PricedLineClassifier struct{}

// TryMatch implements LineClassifier.
func (PricedLineClassifier) TryMatch(text string) (LineMatch, bool) {
	parts, ok := splitLine(text)
	if !ok || parts.qtyIndex >= 0 || len(parts.numbers) != 1 || !parts.priceLike[0] {
		return LineMatch{}, false
	}
	return LineMatch{Item: model.Item{
		Name:      parts.name,
		RawLine:   text,
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: parts.numbers[0],
		LineTotal: parts.numbers[0],
	}}, true
}

// DefaultClassifiers returns the built-in classifier order.
func DefaultClassifiers(lineTolerance Tolerance, pricedLines bool) []LineClassifier {
	classifiers := []LineClassifier{
		SummaryClassifier{},
		QuantityKeywordClassifier{Tolerance: lineTolerance},
		NumericTripleClassifier{Tolerance: lineTolerance},
	}
	if pricedLines {
		classifiers = append(classifiers, PricedLineClassifier{})
	}
	return classifiers
}

var (
	priceTokenRe = regexp.MustCompile(`(?i)^(?:₹|rs\.?|inr)?(\d[\d,]*(?:\.\d+)?)(?:/-)?$`)
	qtyBeforeRe  = regexp.MustCompile(`(?i)^(?:qty|quantity)[.:]?(\d+(?:\.\d+)?)?$`)
	qtyAfterRe   = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)?(?:pcs|pc|nos|no\.?|units?)$`)
	multRe       = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)?[x*@](\d+(?:\.\d+)?)?$`)
	twoDecimalRe = regexp.MustCompile(`\.\d{2}(?:/-)?$`)
)

// lineParts is a line split into a leading name and trailing numeric tail.
type lineParts struct {
	name      string
	numbers   []decimal.Decimal
	priceLike []bool
	// qtyIndex is the index in numbers of the quantity named by a keyword, or -1.
	qtyIndex int
}

func (p lineParts) quantityAndPrices() (decimal.Decimal, []decimal.Decimal, bool) {
	if p.qtyIndex < 0 || p.qtyIndex >= len(p.numbers) {
		return decimal.Zero, nil, false
	}
	prices := make([]decimal.Decimal, 0, len(p.numbers)-1)
	for i, n := range p.numbers {
		if i != p.qtyIndex {
			prices = append(prices, n)
		}
	}
	return p.numbers[p.qtyIndex], prices, true
}

// splitLine walks back from the end of the line collecting prices, quantity
// keywords and multiplication marks. Everything before is the item name,
// which must contain a letter.
func splitLine(text string) (lineParts, bool) {
	fields := strings.Fields(text)
	cut := len(fields)
	for cut > 0 && isTailToken(fields[cut-1]) {
		cut--
	}
	if cut == 0 || cut == len(fields) {
		return lineParts{}, false
	}
	name := strings.Trim(strings.Join(fields[:cut], " "), " :-.")
	if strings.IndexFunc(name, unicode.IsLetter) < 0 {
		return lineParts{}, false
	}

	parts := lineParts{name: name, qtyIndex: -1}
	pendingQty := false
	for _, tok := range fields[cut:] {
		switch {
		case isCurrencyWord(tok):
			continue
		case qtyBeforeRe.MatchString(tok):
			m := qtyBeforeRe.FindStringSubmatch(tok)
			if m[1] != "" {
				parts.addNumber(m[1], false)
				parts.qtyIndex = len(parts.numbers) - 1
			} else {
				pendingQty = true
			}
			continue
		case qtyAfterRe.MatchString(tok):
			m := qtyAfterRe.FindStringSubmatch(tok)
			if m[1] != "" {
				parts.addNumber(m[1], false)
			}
			if len(parts.numbers) > 0 {
				parts.qtyIndex = len(parts.numbers) - 1
			}
			continue
		case multRe.MatchString(tok) && !priceTokenRe.MatchString(tok):
			m := multRe.FindStringSubmatch(tok)
			if m[1] != "" {
				parts.addNumber(m[1], false)
			}
			if m[2] != "" {
				parts.addNumber(m[2], false)
			}
			continue
		}

		m := priceTokenRe.FindStringSubmatch(tok)
		if m == nil {
			return lineParts{}, false
		}
		if !parts.addNumber(m[1], twoDecimalRe.MatchString(tok) || hasCurrencyMark(tok)) {
			return lineParts{}, false
		}
		if pendingQty {
			parts.qtyIndex = len(parts.numbers) - 1
			pendingQty = false
		}
	}
	if len(parts.numbers) == 0 {
		return lineParts{}, false
	}
	return parts, true
}

func (p *lineParts) addNumber(raw string, priceLike bool) bool {
	value, ok := parseAmount(raw)
	if !ok {
		return false
	}
	p.numbers = append(p.numbers, value)
	p.priceLike = append(p.priceLike, priceLike)
	return true
}

func isTailToken(tok string) bool {
	return isCurrencyWord(tok) ||
		priceTokenRe.MatchString(tok) ||
		qtyBeforeRe.MatchString(tok) ||
		qtyAfterRe.MatchString(tok) ||
		multRe.MatchString(tok)
}

func isCurrencyWord(tok string) bool {
	switch strings.ToLower(tok) {
	case "₹", "rs", "rs.", "inr":
		return true
	}
	return false
}

func hasCurrencyMark(tok string) bool {
	lower := strings.ToLower(tok)
	return strings.HasPrefix(lower, "₹") || strings.HasPrefix(lower, "rs") || strings.HasPrefix(lower, "inr")
}

// parseAmount reads a non-negative number with optional thousands separators.
func parseAmount(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSuffix(strings.TrimRight(raw, ","), "/-")
	value, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil || value.IsNegative() {
		return decimal.Zero, false
	}
	return value, true
}
