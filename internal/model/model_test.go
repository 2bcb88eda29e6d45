package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationSession_CloneIsDeep(t *testing.T) {
	amount := decimal.NewFromInt(250)
	session := ConversationSession{
		ID:          "s1",
		UserID:      "u1",
		State:       StateAwaitingReply,
		Pending:     &PendingTransaction{Kind: IntentExpense, Amount: &amount, Category: "Food"},
		Missing:     []Slot{SlotCategory},
		Suggestions: []string{"Food", "Groceries"},
	}

	clone := session.Clone()
	clone.Pending.Category = "Fuel"
	*clone.Pending.Amount = decimal.NewFromInt(1)
	clone.Missing[0] = SlotAmount
	clone.Suggestions[0] = "Bills"

	assert.Equal(t, "Food", session.Pending.Category)
	assert.True(t, session.Pending.Amount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, SlotCategory, session.Missing[0])
	assert.Equal(t, "Food", session.Suggestions[0])
	assert.True(t, session.IsMissing(SlotCategory))
	assert.False(t, session.IsMissing(SlotAmount))
}

func TestTransaction_Validate(t *testing.T) {
	valid := Transaction{ID: "t1", UserID: "u1", Kind: IntentExpense, Amount: decimal.NewFromInt(10)}
	require.NoError(t, valid.Validate())

	tests := []struct {
		mutate func(*Transaction)
		name   string
	}{
		{name: "missing id", mutate: func(tx *Transaction) { tx.ID = "" }},
		{name: "missing user", mutate: func(tx *Transaction) { tx.UserID = "" }},
		{name: "query kind", mutate: func(tx *Transaction) { tx.Kind = IntentQuery }},
		{name: "zero amount", mutate: func(tx *Transaction) { tx.Amount = decimal.Zero }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := valid
			tt.mutate(&tx)
			assert.Error(t, tx.Validate())
		})
	}
}

func TestTransaction_GenerateHashStable(t *testing.T) {
	when := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Transaction{UserID: "u1", OccurredAt: when, Amount: decimal.RequireFromString("12.5"), Merchant: "Dmart"}
	b := a
	b.Amount = decimal.RequireFromString("12.50")
	assert.Equal(t, a.GenerateHash(), b.GenerateHash())

	b.Merchant = "Reliance"
	assert.NotEqual(t, a.GenerateHash(), b.GenerateHash())
}

func TestStructuredDocument_Amount(t *testing.T) {
	doc := StructuredDocument{Items: []Item{
		{Name: "Milk", LineTotal: decimal.NewFromInt(60)},
		{Name: "Bread", LineTotal: decimal.NewFromInt(40)},
	}}
	assert.True(t, doc.Amount().Equal(decimal.NewFromInt(100)))

	total := decimal.NewFromInt(105)
	doc.DeclaredTotal = &total
	assert.True(t, doc.Amount().Equal(total))
}

func TestCategoryMapping_Validate(t *testing.T) {
	m := CategoryMapping{UserID: "u", Scope: ScopeMerchant, Key: "dmart", Category: "Groceries", Weight: 1}
	require.NoError(t, m.Validate())

	m.Scope = "vendor"
	assert.Error(t, m.Validate())

	m.Scope = ScopeKeyword
	m.Weight = -1
	assert.Error(t, m.Validate())
	assert.Less(t, ScopeMerchant.Priority(), ScopeAmountBucket.Priority())
}
