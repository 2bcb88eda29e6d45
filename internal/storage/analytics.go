package storage

import (
	"context"

	"github.com/Veraticus/chatfin/internal/model"
	"github.com/shopspring/decimal"
)

// UncategorizedLabel groups spending that was never categorized.
const UncategorizedLabel = "Uncategorized"

// Summarize totals a user's expenses by category for the filter.
func (s *SQLiteStorage) Summarize(ctx context.Context, userID string, filter model.QueryFilter) (*model.SpendingSummary, error) {
	txns, err := s.ListTransactions(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	return SummarizeTransactions(txns, filter), nil
}

// SummarizeTransactions folds expenses into a summary. Income and savings are skipped.
func SummarizeTransactions(txns []model.Transaction, filter model.QueryFilter) *model.SpendingSummary {
	summary := &model.SpendingSummary{
		Start:      filter.Start,
		End:        filter.End,
		ByCategory: make(map[string]decimal.Decimal),
		Total:      decimal.Zero,
	}

	for _, txn := range txns {
		if txn.Kind != model.IntentExpense {
			continue
		}
		category := txn.Category
		if category == "" {
			category = UncategorizedLabel
		}
		summary.ByCategory[category] = summary.ByCategory[category].Add(txn.Amount)
		summary.Total = summary.Total.Add(txn.Amount)
		summary.Count++
	}

	return summary
}
