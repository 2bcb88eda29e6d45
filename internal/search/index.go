// Package search ranks a user's structured documents against keyword queries.
package search

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/intent"
	"github.com/Veraticus/chatfin/internal/model"
)

// Options tunes ranking.
type Options struct {
	Boost float64
	Limit int
}

// DefaultOptions returns the standard ranking parameters.
func DefaultOptions() Options {
	return Options{Boost: 3, Limit: 20}
}

// Index holds one entry per document, partitioned by user. Entries are
// replaced wholesale on re-index and never edited in place.
type Index struct {
	entries map[string]map[string]*model.IndexEntry
	now     func() time.Time
	opts    Options
	mu      sync.RWMutex
}

// NewIndex creates an empty index.
func NewIndex(opts Options) *Index {
	if opts.Boost <= 0 {
		opts.Boost = DefaultOptions().Boost
	}
	return &Index{
		entries: make(map[string]map[string]*model.IndexEntry),
		opts:    opts,
		now:     time.Now,
	}
}

// Index adds or replaces the entry for doc.
func (i *Index) Index(doc model.StructuredDocument) error {
	if doc.ID == "" || doc.UserID == "" {
		return fmt.Errorf("document requires an ID and a user")
	}

	entry := &model.IndexEntry{
		DocumentID:    doc.ID,
		UserID:        doc.UserID,
		Merchant:      doc.Merchant,
		Category:      doc.Category,
		Date:          doc.Date,
		IndexedAt:     doc.CreatedAt,
		Terms:         make(map[string]int),
		MerchantTerms: termSet(doc.Merchant),
		CategoryTerms: termSet(doc.Category),
	}
	if entry.IndexedAt.IsZero() {
		entry.IndexedAt = i.now()
	}
	for _, t := range terms(doc.RawText) {
		entry.Terms[t]++
	}
	for _, item := range doc.Items {
		if item.RawLine != "" {
			continue
		}
		for _, t := range terms(item.Name) {
			entry.Terms[t]++
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.entries[doc.UserID] == nil {
		i.entries[doc.UserID] = make(map[string]*model.IndexEntry)
	}
	i.entries[doc.UserID][doc.ID] = entry
	return nil
}

// HasUser reports whether any document has been indexed for the user.
func (i *Index) HasUser(userID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.entries[userID]
	return ok
}

// MarkLoaded registers a user with no documents so lazy loaders skip them.
func (i *Index) MarkLoaded(userID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.entries[userID] == nil {
		i.entries[userID] = make(map[string]*model.IndexEntry)
	}
}

// Len returns the number of documents indexed for the user.
func (i *Index) Len(userID string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries[userID])
}

// Search scores the user's documents against query. Each query term adds
// 1+ln(tf) when it occurs in the body and Boost when it names the merchant
// or category. Documents scoring zero are dropped. Ties go to the most
// recent document, then the lower document ID.
func (i *Index) Search(userID, query string, filters model.SearchFilters) []model.SearchResult {
	queryTerms := queryTerms(query)
	if len(queryTerms) == 0 {
		return nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	type scored struct {
		entry *model.IndexEntry
		when  time.Time
		score float64
	}
	var hits []scored
	for _, entry := range i.entries[userID] {
		if !matchesFilters(entry, filters) {
			continue
		}
		score := 0.0
		for _, t := range queryTerms {
			if tf := entry.Terms[t]; tf > 0 {
				score += 1 + math.Log(float64(tf))
			}
			_, inMerchant := entry.MerchantTerms[t]
			_, inCategory := entry.CategoryTerms[t]
			if inMerchant || inCategory {
				score += i.opts.Boost
			}
		}
		if score > 0 {
			hits = append(hits, scored{entry: entry, score: score, when: effectiveDate(entry)})
		}
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		if !hits[a].when.Equal(hits[b].when) {
			return hits[a].when.After(hits[b].when)
		}
		return hits[a].entry.DocumentID < hits[b].entry.DocumentID
	})

	limit := filters.Limit
	if limit <= 0 {
		limit = i.opts.Limit
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]model.SearchResult, len(hits))
	for n, h := range hits {
		results[n] = model.SearchResult{
			DocumentID: h.entry.DocumentID,
			Merchant:   h.entry.Merchant,
			Category:   h.entry.Category,
			Date:       h.entry.Date,
			Score:      h.score,
		}
	}
	return results
}

func matchesFilters(entry *model.IndexEntry, filters model.SearchFilters) bool {
	if filters.Category != "" && !strings.EqualFold(entry.Category, filters.Category) {
		return false
	}
	if filters.DateRange != nil && !filters.DateRange.Contains(effectiveDate(entry)) {
		return false
	}
	return true
}

func effectiveDate(entry *model.IndexEntry) time.Time {
	if entry.Date != nil {
		return *entry.Date
	}
	return entry.IndexedAt
}

func terms(text string) []string {
	words := common.Tokenize(text)
	for n, w := range words {
		words[n] = common.Singular(w)
	}
	return words
}

func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range terms(text) {
		set[t] = struct{}{}
	}
	return set
}

// queryTerms returns the distinct content terms of a query. A query made
// only of stop words is used as is.
func queryTerms(query string) []string {
	words := common.Tokenize(query)
	seen := make(map[string]bool, len(words))
	var content, everything []string
	for _, w := range words {
		t := common.Singular(w)
		if seen[t] {
			continue
		}
		seen[t] = true
		everything = append(everything, t)
		if !intent.IsStopWord(w) {
			content = append(content, t)
		}
	}
	if len(content) == 0 {
		return everything
	}
	return content
}
