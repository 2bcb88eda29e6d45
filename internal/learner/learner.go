// Package learner keeps per-user category mappings learned from confirmed
// and corrected categorizations.
package learner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
	"github.com/Veraticus/chatfin/internal/service"
)

// Config tunes learning and lookup.
type Config struct {
	ScopeFactors    map[model.MappingScope]float64
	AmountBuckets   []decimal.Decimal
	CacheTTL        time.Duration
	ConfirmWeight   float64
	CorrectionDecay float64
	CorrectionBoost float64
	MaxKeywords     int
}

// DefaultConfig returns the standard learning parameters.
func DefaultConfig() Config {
	return Config{
		ScopeFactors: map[model.MappingScope]float64{
			model.ScopeMerchant:     1.0,
			model.ScopeKeyword:      0.6,
			model.ScopeAmountBucket: 0.3,
		},
		AmountBuckets: []decimal.Decimal{
			decimal.NewFromInt(100),
			decimal.NewFromInt(500),
			decimal.NewFromInt(2000),
		},
		CacheTTL:        5 * time.Minute,
		ConfirmWeight:   1.0,
		CorrectionDecay: 0.5,
		CorrectionBoost: 2.0,
		MaxKeywords:     8,
	}
}

func (c Config) extract(merchant, text string, amount *decimal.Decimal) Features {
	f := Features{
		Merchant: NormalizeMerchant(merchant),
		Keywords: Keywords(text, c.MaxKeywords),
	}
	if amount != nil && !amount.IsNegative() {
		f.AmountBucket = Bucket(*amount, c.AmountBuckets)
	}
	return f
}

// Store is the persistence the learner needs.
type Store interface {
	service.MappingStore
	BeginTx(ctx context.Context) (service.Transaction, error)
}

type cachedContext struct {
	expires time.Time
	ctx     *Context
}

// Learner records observations and serves per-user snapshots. Record calls
// for one user are serialized; different users proceed in parallel.
type Learner struct {
	store      Store
	locks      *common.KeyedMutex
	cache      map[string]cachedContext
	now        func() time.Time
	cfg        Config
	cacheMutex sync.RWMutex
}

// New creates a Learner.
func New(store Store, cfg Config) *Learner {
	return &Learner{
		store: store,
		cfg:   cfg,
		locks: common.NewKeyedMutex(),
		cache: make(map[string]cachedContext),
		now:   time.Now,
	}
}

// Config returns the learner's configuration.
func (l *Learner) Config() Config {
	return l.cfg
}

// Context returns a snapshot of the user's mappings.
func (l *Learner) Context(ctx context.Context, userID string) (*Context, error) {
	if userID == "" {
		return nil, fmt.Errorf("learner context requires a user")
	}
	if c := l.cached(userID); c != nil {
		return c, nil
	}

	// Loading under the user's lock keeps a concurrent Record from being
	// shadowed by a stale snapshot.
	unlock := l.locks.Lock(userID)
	defer unlock()
	if c := l.cached(userID); c != nil {
		return c, nil
	}

	mappings, err := l.store.LoadCategoryMappings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings for %s: %w", userID, err)
	}
	c := NewContext(userID, mappings, l.cfg)

	l.cacheMutex.Lock()
	l.cache[userID] = cachedContext{ctx: c, expires: l.now().Add(l.cfg.CacheTTL)}
	l.cacheMutex.Unlock()

	return c, nil
}

// Lookup is a convenience for Context followed by Context.LookupText.
func (l *Learner) Lookup(ctx context.Context, userID, merchant, text string, amount *decimal.Decimal) ([]model.WeightedCategory, error) {
	c, err := l.Context(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.LookupText(merchant, text, amount), nil
}

// Record applies one observation. A confirmation strengthens every matching
// mapping for the category. A correction decays the mapping that pointed at
// the previous category and boosts the new one. Mappings are never deleted
// and every call is appended to the learning history.
func (l *Learner) Record(ctx context.Context, obs model.Observation) error {
	return l.RecordWith(ctx, obs, nil)
}

// TxFunc writes alongside a learning step in the same storage transaction.
type TxFunc func(ctx context.Context, tx service.Transaction) error

// RecordWith is Record with extra writes. also runs first inside the storage
// transaction that saves the mappings, so either everything commits or
// nothing does and the cache is left untouched.
func (l *Learner) RecordWith(ctx context.Context, obs model.Observation, also TxFunc) error {
	if obs.UserID == "" {
		return fmt.Errorf("observation requires a user")
	}
	category := NormalizeCategory(obs.Category)
	if category == "" {
		return fmt.Errorf("observation requires a category")
	}

	unlock := l.locks.Lock(obs.UserID)
	defer unlock()

	current, err := l.store.LoadCategoryMappings(ctx, obs.UserID)
	if err != nil {
		return fmt.Errorf("failed to load mappings for %s: %w", obs.UserID, err)
	}
	table := make(map[model.MappingKey]model.CategoryMapping, len(current))
	for _, m := range current {
		table[m.MapKey()] = m
	}

	features := l.cfg.extract(obs.Merchant, obs.Text, obs.Amount)
	if len(obs.Keywords) > 0 {
		features.Keywords = obs.Keywords
	}
	previous := NormalizeCategory(obs.PreviousCategory)
	now := l.now()

	changed := make(map[model.MappingKey]model.CategoryMapping)
	get := func(k scopeKey, cat string) model.CategoryMapping {
		mk := model.MappingKey{Scope: k.scope, Key: k.key, Category: cat}
		if m, ok := changed[mk]; ok {
			return m
		}
		if m, ok := table[mk]; ok {
			return m
		}
		return model.CategoryMapping{UserID: obs.UserID, Scope: k.scope, Key: k.key, Category: cat}
	}
	put := func(m model.CategoryMapping) {
		m.UpdatedAt = now
		changed[m.MapKey()] = m
	}

	for _, k := range features.keys() {
		if obs.Confirmed {
			m := get(k, category)
			m.Weight += l.cfg.ConfirmWeight
			m.ObservationCount++
			put(m)
			continue
		}

		prev := previous
		if prev == "" {
			prev = strongestOther(table, k, category)
		}
		if prev != "" && prev != category {
			if old, ok := table[model.MappingKey{Scope: k.scope, Key: k.key, Category: prev}]; ok {
				old.Weight *= l.cfg.CorrectionDecay
				old.Corrections++
				put(old)
			}
		}
		m := get(k, category)
		m.Weight += l.cfg.CorrectionBoost
		m.ObservationCount++
		put(m)
	}

	event := &model.LearningEvent{
		UserID:           obs.UserID,
		Category:         category,
		PreviousCategory: previous,
		Merchant:         features.Merchant,
		AmountBucket:     features.AmountBucket,
		Keywords:         features.Keywords,
		Confirmed:        obs.Confirmed,
		CreatedAt:        now,
	}

	if err := l.persist(ctx, obs.UserID, changed, event, also); err != nil {
		return err
	}

	l.invalidate(obs.UserID)

	slog.Debug("Recorded observation",
		"user_id", obs.UserID,
		"category", category,
		"confirmed", obs.Confirmed,
		"mappings", len(changed))

	return nil
}

func (l *Learner) persist(ctx context.Context, userID string, changed map[model.MappingKey]model.CategoryMapping, event *model.LearningEvent, also TxFunc) error {
	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if also != nil {
		if err := also(ctx, tx); err != nil {
			return err
		}
	}

	if len(changed) > 0 {
		mappings := make([]model.CategoryMapping, 0, len(changed))
		for _, m := range changed {
			mappings = append(mappings, m)
		}
		if err := tx.SaveCategoryMappings(ctx, userID, mappings); err != nil {
			return fmt.Errorf("failed to save mappings: %w", err)
		}
	}
	if err := tx.AppendLearningEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append learning event: %w", err)
	}
	return tx.Commit()
}

// strongestOther returns the category other than exclude with the highest
// weight for the key, ties broken by name.
func strongestOther(table map[model.MappingKey]model.CategoryMapping, k scopeKey, exclude string) string {
	best, bestWeight := "", 0.0
	for mk, m := range table {
		if mk.Scope != k.scope || mk.Key != k.key || mk.Category == exclude || m.Weight <= 0 {
			continue
		}
		if m.Weight > bestWeight || (m.Weight == bestWeight && mk.Category < best) {
			best, bestWeight = mk.Category, m.Weight
		}
	}
	return best
}

func (l *Learner) cached(userID string) *Context {
	l.cacheMutex.RLock()
	defer l.cacheMutex.RUnlock()
	entry, ok := l.cache[userID]
	if !ok || l.now().After(entry.expires) {
		return nil
	}
	return entry.ctx
}

func (l *Learner) invalidate(userID string) {
	l.cacheMutex.Lock()
	delete(l.cache, userID)
	l.cacheMutex.Unlock()
}
