// Package document extracts merchant, date, total and line items from noisy
// receipt text and checks that they reconcile.
package document

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/chatfin/internal/model"
)

// Options configures a Structurer.
type Options struct {
	// TotalTolerance bounds the difference between the item sum and the declared total.
	TotalTolerance Tolerance
	// LineTolerance bounds qty*unit against a line total.
	LineTolerance Tolerance
	// Classifiers overrides the built-in line classifier order.
	Classifiers []LineClassifier
	// PricedLines accepts "name 40.00" rows as single items.
	PricedLines bool
}

// DefaultOptions returns a 1% / 1.00 total tolerance and a 1% / 0.05 line tolerance.
func DefaultOptions() Options {
	return Options{
		TotalTolerance: Tolerance{Percent: 0.01, Minimum: decimal.NewFromInt(1)},
		LineTolerance:  Tolerance{Percent: 0.01, Minimum: decimal.RequireFromString("0.05")},
		PricedLines:    true,
	}
}

// Structurer turns recognized text into a StructuredDocument. It holds no
// mutable state and is safe for concurrent use.
type Structurer struct {
	classifiers    []LineClassifier
	totalTolerance Tolerance
}

// NewStructurer creates a Structurer.
func NewStructurer(opts Options) *Structurer {
	classifiers := opts.Classifiers
	if len(classifiers) == 0 {
		classifiers = DefaultClassifiers(opts.LineTolerance, opts.PricedLines)
	}
	return &Structurer{
		classifiers:    classifiers,
		totalTolerance: opts.TotalTolerance,
	}
}

// Structure extracts fields from rawText. tokens, when given, supply per-word
// confidence and optionally layout. Items that break qty*unit = total are
// kept and flagged rather than dropped.
func (s *Structurer) Structure(rawText string, tokens []model.OCRToken) model.StructuredDocument {
	lines := buildLines(rawText, tokens)
	doc := model.StructuredDocument{RawText: rawText}

	used := make(map[int]bool)
	var headerLines, otherLines []int
	firstItem := -1

	for i, l := range lines {
		match, ok := s.classify(l.text)
		switch {
		case ok && match.Ignore:
			continue
		case ok:
			doc.Items = append(doc.Items, match.Item)
			used[i] = true
			if firstItem < 0 {
				firstItem = i
			}
		case firstItem < 0:
			headerLines = append(headerLines, i)
		default:
			otherLines = append(otherLines, i)
		}
	}

	if merchant, idx := findMerchant(lines, append(headerLines, otherLines...)); idx >= 0 {
		doc.Merchant = merchant
		used[idx] = true
	}
	if date, idx := findDate(lines); idx >= 0 {
		doc.Date = date
		used[idx] = true
	}
	if total, idx := findTotal(lines); idx >= 0 {
		doc.DeclaredTotal = total
		used[idx] = true
	}

	doc.PaymentMode = detectPaymentMode(rawText)
	s.reconcile(&doc)
	doc.OCRConfidence = confidence(lines, tokens, used)

	slog.Debug("Structured document",
		"lines", len(lines),
		"items", len(doc.Items),
		"merchant", doc.Merchant,
		"needs_review", doc.NeedsReview)

	return doc
}

func (s *Structurer) classify(text string) (LineMatch, bool) {
	for _, c := range s.classifiers {
		if match, ok := c.TryMatch(text); ok {
			return match, true
		}
	}
	return LineMatch{}, false
}

func (s *Structurer) reconcile(doc *model.StructuredDocument) {
	for _, item := range doc.Items {
		if item.Mismatch {
			doc.NeedsReview = true
			doc.Issues = append(doc.Issues, model.Issue{
				Code:    model.IssueItemMismatch,
				Field:   item.Name,
				Message: fmt.Sprintf("%s x %s does not equal %s", item.Quantity, item.UnitPrice, item.LineTotal),
			})
		}
	}

	switch {
	case doc.DeclaredTotal == nil && len(doc.Items) > 0:
		doc.NeedsReview = true
		doc.Issues = append(doc.Issues, model.Issue{
			Code:    model.IssueMissingTotal,
			Field:   "total",
			Message: "items found but no total line",
		})
	case doc.DeclaredTotal == nil:
		doc.NeedsReview = true
		doc.Issues = append(doc.Issues, model.Issue{
			Code:    model.IssueMissingTotal,
			Field:   "total",
			Message: "no items or total found",
		})
	case len(doc.Items) > 0:
		sum := doc.ItemsTotal()
		diff := sum.Sub(*doc.DeclaredTotal).Abs()
		if diff.GreaterThan(s.totalTolerance.For(*doc.DeclaredTotal)) {
			doc.NeedsReview = true
			doc.Issues = append(doc.Issues, model.Issue{
				Code:    model.IssueStructuringAmbiguity,
				Field:   "total",
				Message: fmt.Sprintf("items sum to %s but total is %s", sum.StringFixed(2), doc.DeclaredTotal.StringFixed(2)),
				Score:   diff.InexactFloat64(),
			})
		}
	}
}

// confidence is the lowest token confidence among lines that produced a
// field. Typed text with no tokens is fully trusted.
func confidence(lines []line, tokens []model.OCRToken, used map[int]bool) float64 {
	if len(tokens) == 0 {
		return 1.0
	}
	lowest := math.Inf(1)
	for i := range used {
		if lines[i].hasConf && lines[i].confidence < lowest {
			lowest = lines[i].confidence
		}
	}
	if math.IsInf(lowest, 1) {
		for _, t := range tokens {
			if t.Confidence < lowest {
				lowest = t.Confidence
			}
		}
	}
	return clamp01(lowest)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
