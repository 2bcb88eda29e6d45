package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/chatfin/internal/model"
)

func TestFormatters(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		contains []string
	}{
		{name: "success", got: FormatSuccess("Saved"), contains: []string{SuccessIcon, "Saved"}},
		{name: "error", got: FormatError("Failed"), contains: []string{ErrorIcon, "Failed"}},
		{name: "warning", got: FormatWarning("Careful"), contains: []string{"Careful"}},
		{name: "prompt", got: FormatPrompt("you"), contains: []string{"you →"}},
		{name: "box", got: RenderBox("Title", "body"), contains: []string{"Title", "body"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, want := range tt.contains {
				assert.Contains(t, tt.got, want)
			}
		})
	}
}

func TestRenderTable_PadsColumns(t *testing.T) {
	out := RenderTable([]string{"A", "B"}, [][]string{{"long value", "x"}, {"y"}})
	assert.Contains(t, out, "long value")
	assert.Contains(t, out, "A")
}

func TestFormatCategorization(t *testing.T) {
	result := model.CategorizationResult{
		Category:       "Food",
		Confidence:     0.82,
		Source:         model.SourceFused,
		AutoApplicable: true,
		Explanation: model.CategoryRankings{{
			Category:     "Food",
			Score:        0.82,
			Global:       0.7,
			User:         0.9,
			Alpha:        0.35,
			ScopeWeights: map[model.MappingScope]float64{model.ScopeKeyword: 0.6, model.ScopeMerchant: 2},
		}},
	}

	out := FormatCategorization(result)
	assert.Contains(t, out, "Food (82%, fused)")
	assert.Contains(t, out, "merchant=2.00 keyword=0.60")

	result.AutoApplicable = false
	assert.Contains(t, FormatCategorization(result), "needs confirmation")
	assert.Contains(t, FormatCategorization(model.CategorizationResult{}), "No category")
}

func TestFormatSummary(t *testing.T) {
	assert.Contains(t, FormatSummary(nil, "₹"), "No matching spending")

	summary := &model.SpendingSummary{
		Total: decimal.NewFromInt(800),
		Count: 3,
		ByCategory: map[string]decimal.Decimal{
			"Food":      decimal.NewFromInt(300),
			"Groceries": decimal.NewFromInt(500),
		},
	}
	out := FormatSummary(summary, "₹")
	assert.Contains(t, out, "₹800.00 across 3 transactions")
	assert.Less(t, strings.Index(out, "Groceries"), strings.Index(out, "Food"))
}

func TestFormatDocumentAndSearch(t *testing.T) {
	date := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	total := decimal.RequireFromString("120.00")
	doc := model.StructuredDocument{
		ID:            "doc-1",
		Merchant:      "DMart",
		Date:          &date,
		DeclaredTotal: &total,
		OCRConfidence: 0.9,
		Items: []model.Item{{
			Name:      "Milk",
			Quantity:  decimal.NewFromInt(2),
			UnitPrice: decimal.NewFromInt(30),
			LineTotal: decimal.NewFromInt(60),
		}},
		Issues: []model.Issue{{Code: model.IssueStructuringAmbiguity, Message: "items sum to 60.00"}},
	}

	out := FormatDocument(doc)
	for _, want := range []string{"DMart", "2024-03-14", "120.00", "Milk", "structuring_ambiguity"} {
		assert.Contains(t, out, want)
	}

	assert.Contains(t, FormatSearchResults(nil), "No matching documents")
	results := FormatSearchResults([]model.SearchResult{{DocumentID: "doc-1", Merchant: "DMart", Score: 4, Date: &date}})
	assert.Contains(t, results, "4.00")
	assert.Contains(t, results, "doc-1")
}
