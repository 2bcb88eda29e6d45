package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/engine"
	"github.com/Veraticus/chatfin/internal/model"
)

// ImportOptions configures a statement import.
type ImportOptions struct {
	// Progress is called as merchant groups are categorized.
	Progress func(done, total int)
	// Learn records every auto-applied group as a confirmation.
	Learn bool
	// Workers is the number of categorization workers.
	Workers int
}

// ImportResult summarizes a statement import.
type ImportResult struct {
	Batch      *engine.BatchSummary
	Groups     []engine.BatchResult
	Imported   int
	Duplicates int
}

// StatementAccounts lists the account IDs a statement covers without
// importing anything.
func (s *Service) StatementAccounts(ctx context.Context, r io.Reader) ([]string, error) {
	return s.deps.Statements.GetAccounts(ctx, r)
}

// ImportStatement parses an OFX statement, categorizes its lines by merchant
// group and saves them. Lines already imported are skipped.
func (s *Service) ImportStatement(ctx context.Context, userID string, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	txns, err := s.deps.Statements.ParseFile(ctx, r, userID)
	if err != nil {
		return nil, err
	}

	lc, err := s.deps.Learner.Context(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load learner context: %w", err)
	}

	batchOpts := engine.DefaultBatchOptions()
	batchOpts.Progress = opts.Progress
	if opts.Workers > 0 {
		batchOpts.ParallelWorkers = opts.Workers
	}
	groups, summary, err := s.deps.Categorizer.CategorizeBatch(ctx, lc, txns, batchOpts)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Batch: summary, Groups: groups}
	for _, group := range groups {
		saved := 0
		for i := range group.Transactions {
			txn := &group.Transactions[i]
			switch err := s.deps.Storage.SaveTransaction(ctx, txn); {
			case errors.Is(err, common.ErrDuplicateEntry):
				result.Duplicates++
			case err != nil:
				return nil, fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
			default:
				result.Imported++
				saved++
			}
		}

		if opts.Learn && saved > 0 && group.Result.AutoApplicable {
			if err := s.learnGroup(ctx, userID, group); err != nil {
				return nil, err
			}
		}
	}

	slog.Info("Imported statement",
		"user_id", userID,
		"imported", result.Imported,
		"duplicates", result.Duplicates,
		"needs_review", summary.NeedsReviewTxns)

	return result, nil
}

func (s *Service) learnGroup(ctx context.Context, userID string, group engine.BatchResult) error {
	sample := group.Transactions[0]
	amount := sample.Amount
	obs := model.Observation{
		UserID:    userID,
		Category:  group.Result.Category,
		Merchant:  sample.Merchant,
		Text:      sample.Note,
		Amount:    &amount,
		Confirmed: true,
	}
	if err := s.deps.Learner.Record(ctx, obs); err != nil {
		return fmt.Errorf("failed to learn %s: %w", group.Merchant, err)
	}
	return nil
}
