package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/chatfin/internal/learner"
	"github.com/Veraticus/chatfin/internal/model"
)

// BatchOptions configures batch categorization.
type BatchOptions struct {
	Progress        func(done, total int)
	ParallelWorkers int
}

// DefaultBatchOptions returns sensible defaults.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{ParallelWorkers: 2}
}

// BatchResult is the decision for one merchant group.
type BatchResult struct {
	Merchant     string
	Transactions []model.Transaction
	Result       model.CategorizationResult
}

// BatchSummary contains statistics about a batch run.
type BatchSummary struct {
	TotalMerchants    int
	TotalTransactions int
	AutoAppliedCount  int
	AutoAppliedTxns   int
	NeedsReviewCount  int
	NeedsReviewTxns   int
	ProcessingTime    time.Duration
}

// CategorizeBatch groups transactions by merchant and categorizes each group
// once. Every transaction in a group receives the group's category and
// source. Results are ordered by group size, then merchant.
func (c *Categorizer) CategorizeBatch(ctx context.Context, lc *learner.Context, txns []model.Transaction, opts BatchOptions) ([]BatchResult, *BatchSummary, error) {
	start := time.Now()
	if opts.ParallelWorkers <= 0 {
		opts.ParallelWorkers = 1
	}

	groups := GroupByMerchant(txns)
	merchants := SortMerchantsByVolume(groups)

	results, err := c.processParallel(ctx, lc, merchants, groups, opts)
	if err != nil {
		return nil, nil, err
	}

	summary := &BatchSummary{
		TotalMerchants:    len(groups),
		TotalTransactions: len(txns),
	}
	for i := range results {
		r := &results[i]
		for j := range r.Transactions {
			r.Transactions[j].Category = r.Result.Category
			r.Transactions[j].Source = r.Result.Source
			r.Transactions[j].Confidence = r.Result.Confidence
		}
		if r.Result.AutoApplicable {
			summary.AutoAppliedCount++
			summary.AutoAppliedTxns += len(r.Transactions)
		} else {
			summary.NeedsReviewCount++
			summary.NeedsReviewTxns += len(r.Transactions)
		}
	}
	summary.ProcessingTime = time.Since(start)

	slog.Info("Batch categorization finished",
		"merchants", summary.TotalMerchants,
		"transactions", summary.TotalTransactions,
		"auto_applied", summary.AutoAppliedCount,
		"needs_review", summary.NeedsReviewCount)

	return results, summary, nil
}

func (c *Categorizer) processParallel(
	ctx context.Context,
	lc *learner.Context,
	merchants []string,
	groups map[string][]model.Transaction,
	opts BatchOptions,
) ([]BatchResult, error) {
	type job struct {
		merchant string
		index    int
	}

	workChan := make(chan job, len(merchants))
	for i, m := range merchants {
		workChan <- job{index: i, merchant: m}
	}
	close(workChan)

	results := make([]BatchResult, len(merchants))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	wg.Add(opts.ParallelWorkers)
	for w := 0; w < opts.ParallelWorkers; w++ {
		go func(workerID int) {
			defer wg.Done()
			for j := range workChan {
				if ctx.Err() != nil {
					return
				}
				txns := groups[j.merchant]
				sample := txns[0]
				amount := sample.Amount
				result := c.Categorize(lc, sample.Note, sample.Merchant, &amount)

				slog.Debug("merchant categorized",
					"worker_id", workerID,
					"merchant", j.merchant,
					"category", result.Category,
					"confidence", fmt.Sprintf("%.2f", result.Confidence),
					"transaction_count", len(txns))

				results[j.index] = BatchResult{
					Merchant:     j.merchant,
					Transactions: txns,
					Result:       result,
				}

				if opts.Progress != nil {
					mu.Lock()
					done++
					opts.Progress(done, len(merchants))
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch categorization interrupted: %w", err)
	}
	return results, nil
}

// GroupByMerchant buckets transactions by trimmed, lower-cased merchant,
// falling back to the note for transactions without one.
func GroupByMerchant(txns []model.Transaction) map[string][]model.Transaction {
	groups := make(map[string][]model.Transaction)
	for _, txn := range txns {
		merchant := txn.Merchant
		if merchant == "" {
			merchant = txn.Note
		}
		key := strings.ToLower(strings.TrimSpace(merchant))
		groups[key] = append(groups[key], txn)
	}
	return groups
}

// SortMerchantsByVolume returns merchant keys sorted by transaction count
// descending, then by name.
func SortMerchantsByVolume(groups map[string][]model.Transaction) []string {
	merchants := make([]string, 0, len(groups))
	for m := range groups {
		merchants = append(merchants, m)
	}
	sort.Slice(merchants, func(i, j int) bool {
		ci, cj := len(groups[merchants[i]]), len(groups[merchants[j]])
		if ci != cj {
			return ci > cj
		}
		return merchants[i] < merchants[j]
	})
	return merchants
}
