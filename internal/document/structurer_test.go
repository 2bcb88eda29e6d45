package document

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/chatfin/internal/model"
)

const groceryReceipt = `DMART AVENUE SUPERMARTS
GSTIN 27AABCA1234B1Z5
Date: 12/03/2024
Milk 2 pcs 30.00 60.00
Bread 1 x 40.00 40.00
Rice 5kg qty:1 350.00
Subtotal 450.00
CGST 0.00
Total 450.00
Paid by UPI`

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestStructurer_GroceryReceipt(t *testing.T) {
	doc := NewStructurer(DefaultOptions()).Structure(groceryReceipt, nil)

	assert.Equal(t, "DMART AVENUE SUPERMARTS", doc.Merchant)
	require.NotNil(t, doc.Date)
	assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), *doc.Date)
	require.NotNil(t, doc.DeclaredTotal)
	assert.True(t, doc.DeclaredTotal.Equal(dec("450")))

	require.Len(t, doc.Items, 3)
	assert.Equal(t, "Milk", doc.Items[0].Name)
	assert.True(t, doc.Items[0].Quantity.Equal(dec("2")))
	assert.True(t, doc.Items[0].UnitPrice.Equal(dec("30")))
	assert.Equal(t, "Bread", doc.Items[1].Name)
	assert.Equal(t, "Rice 5kg", doc.Items[2].Name)
	assert.True(t, doc.Items[2].LineTotal.Equal(dec("350")))

	assert.False(t, doc.NeedsReview)
	assert.Empty(t, doc.Issues)
	assert.Equal(t, "UPI", doc.PaymentMode)
	assert.InDelta(t, 1.0, doc.OCRConfidence, 1e-9)
}

func TestStructurer_Reconciliation(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		issue      model.IssueCode
		wantReview bool
	}{
		{
			name:       "within minimum tolerance",
			text:       "Cafe Mocha\nLatte 1 x 150.00 150.00\nMuffin 1 x 99.50 99.50\nTotal 250.00",
			wantReview: false,
		},
		{
			name:       "sum exceeds tolerance",
			text:       "Cafe Mocha\nLatte 1 x 150.00 150.00\nMuffin 1 x 99.50 99.50\nTotal 300.00",
			wantReview: true,
			issue:      model.IssueStructuringAmbiguity,
		},
		{
			name:       "items without total",
			text:       "Cafe Mocha\nLatte 1 x 150.00 150.00",
			wantReview: true,
			issue:      model.IssueMissingTotal,
		},
		{
			name:       "item arithmetic broken",
			text:       "Cafe Mocha\nLatte 2 pcs 150.00 150.00\nTotal 150.00",
			wantReview: true,
			issue:      model.IssueItemMismatch,
		},
		{
			name:       "total only",
			text:       "Petrol Pump 24\nGrand Total Rs. 2,000.00",
			wantReview: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewStructurer(DefaultOptions()).Structure(tt.text, nil)
			assert.Equal(t, tt.wantReview, doc.NeedsReview)
			if tt.issue != "" {
				assert.True(t, model.HasIssue(doc.Issues, tt.issue), "issues: %v", doc.Issues)
			}
		})
	}
}

func TestStructurer_MismatchedItemIsKept(t *testing.T) {
	doc := NewStructurer(DefaultOptions()).Structure("Shop\nLatte 2 pcs 150.00 150.00\nTotal 150.00", nil)
	require.Len(t, doc.Items, 1)
	assert.True(t, doc.Items[0].Mismatch)
}

func TestStructurer_TotalTakesLargestAndSkipsSubtotal(t *testing.T) {
	text := "Store\nSubtotal 900.00\nTotal 950.00\nTotal Tax 50.00\nNet Amount 1000.00"
	doc := NewStructurer(DefaultOptions()).Structure(text, nil)
	require.NotNil(t, doc.DeclaredTotal)
	assert.True(t, doc.DeclaredTotal.Equal(dec("1000")))
}

func TestStructurer_DateFormatPriority(t *testing.T) {
	tests := []struct {
		want time.Time
		name string
		text string
	}{
		{name: "iso beats earlier day-month", text: "Shop\n05/06/2024\nBilled 2024-01-02", want: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{name: "day month year", text: "Shop\nDate 05/06/2024", want: time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)},
		{name: "short year", text: "Shop\n05-06-24", want: time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)},
		{name: "month name", text: "Shop\n7-Mar-2024", want: time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewStructurer(DefaultOptions()).Structure(tt.text, nil)
			require.NotNil(t, doc.Date)
			assert.Equal(t, tt.want, *doc.Date)
		})
	}

	doc := NewStructurer(DefaultOptions()).Structure("Shop\n31/02/2024", nil)
	assert.Nil(t, doc.Date)
}

func TestStructurer_TokenLayoutAndConfidence(t *testing.T) {
	tokens := []model.OCRToken{
		{Text: "Fresh", Confidence: 0.95, Position: &model.Position{Left: 10, Top: 10, Width: 50, Height: 20}},
		{Text: "Mart", Confidence: 0.90, Position: &model.Position{Left: 70, Top: 12, Width: 40, Height: 20}},
		{Text: "Apples", Confidence: 0.80, Position: &model.Position{Left: 10, Top: 50, Width: 60, Height: 20}},
		{Text: "120.00", Confidence: 0.70, Position: &model.Position{Left: 200, Top: 51, Width: 50, Height: 20}},
		{Text: "Total", Confidence: 0.85, Position: &model.Position{Left: 10, Top: 90, Width: 50, Height: 20}},
		{Text: "120.00", Confidence: 0.88, Position: &model.Position{Left: 200, Top: 89, Width: 50, Height: 20}},
		{Text: "smudge", Confidence: 0.10, Position: &model.Position{Left: 10, Top: 140, Width: 50, Height: 20}},
	}

	doc := NewStructurer(DefaultOptions()).Structure("", tokens)

	assert.Equal(t, "Fresh Mart", doc.Merchant)
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "Apples", doc.Items[0].Name)
	assert.False(t, doc.NeedsReview)
	// The unused "smudge" line does not drag confidence down.
	assert.InDelta(t, 0.70, doc.OCRConfidence, 1e-9)
}

func TestStructurer_NewlineTokensConfidence(t *testing.T) {
	tokens := []model.OCRToken{
		{Text: "Corner", Confidence: 0.9},
		{Text: "Store", Confidence: 0.6},
		{Text: "Total", Confidence: 0.95},
		{Text: "80.00", Confidence: 0.97},
	}
	doc := NewStructurer(DefaultOptions()).Structure("Corner Store\nTotal 80.00", tokens)
	assert.Equal(t, "Corner Store", doc.Merchant)
	assert.InDelta(t, 0.6, doc.OCRConfidence, 1e-9)
}

func TestLineClassifiers(t *testing.T) {
	tol := DefaultOptions().LineTolerance

	tests := []struct {
		classifier LineClassifier
		name       string
		line       string
		wantName   string
		wantTotal  string
		wantMatch  bool
		wantIgnore bool
	}{
		{name: "summary row", classifier: SummaryClassifier{}, line: "SGST @ 2.5% 11.25", wantMatch: true, wantIgnore: true},
		{name: "qty keyword single price", classifier: QuantityKeywordClassifier{Tolerance: tol}, line: "Eggs qty 12 84", wantMatch: true, wantName: "Eggs", wantTotal: "84"},
		{name: "qty keyword needs keyword", classifier: QuantityKeywordClassifier{Tolerance: tol}, line: "Eggs 12 7 84", wantMatch: false},
		{name: "triple", classifier: NumericTripleClassifier{Tolerance: tol}, line: "Eggs 12 7.00 84.00", wantMatch: true, wantName: "Eggs", wantTotal: "84"},
		{name: "triple inconsistent", classifier: NumericTripleClassifier{Tolerance: tol}, line: "Eggs 12 7.00 90.00", wantMatch: false},
		{name: "triple multiplication mark", classifier: NumericTripleClassifier{Tolerance: tol}, line: "Soap 3x25 75", wantMatch: true, wantName: "Soap", wantTotal: "75"},
		{name: "priced line", classifier: PricedLineClassifier{}, line: "Paneer Tikka ₹240", wantMatch: true, wantName: "Paneer Tikka", wantTotal: "240"},
		{name: "bare number is not a price", classifier: PricedLineClassifier{}, line: "Table 12", wantMatch: false},
		{name: "no name", classifier: PricedLineClassifier{}, line: "120.00", wantMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, ok := tt.classifier.TryMatch(tt.line)
			assert.Equal(t, tt.wantMatch, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantIgnore, match.Ignore)
			if tt.wantName != "" {
				assert.Equal(t, tt.wantName, match.Item.Name)
				assert.True(t, match.Item.LineTotal.Equal(dec(tt.wantTotal)), "total %s", match.Item.LineTotal)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	in := "Paid to shop@okaxis from john.doe@example.com acct 123456789012 total 450"
	out := Redact(in)
	assert.NotContains(t, out, "okaxis")
	assert.NotContains(t, out, "example.com")
	assert.NotContains(t, out, "123456789012")
	assert.Contains(t, out, "total 450")
}
