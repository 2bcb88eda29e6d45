package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/chatfin/internal/classifier"
	"github.com/Veraticus/chatfin/internal/engine"
	"github.com/Veraticus/chatfin/internal/intent"
	"github.com/Veraticus/chatfin/internal/learner"
	"github.com/Veraticus/chatfin/internal/model"
)

type staticSource struct {
	lc  *learner.Context
	err error
}

func (s staticSource) Context(_ context.Context, userID string) (*learner.Context, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.lc != nil {
		return s.lc, nil
	}
	return learner.NewContext(userID, nil, learner.DefaultConfig()), nil
}

var fixedNow = time.Date(2024, 6, 12, 15, 30, 0, 0, time.UTC)

func newTestMachine(t *testing.T, source ContextSource) *Machine {
	t.Helper()
	categorizer, err := engine.New(classifier.DefaultModel(), engine.DefaultConfig())
	require.NoError(t, err)

	m := NewMachine(intent.NewParser(), categorizer, source, DefaultConfig())
	m.now = func() time.Time { return fixedNow }
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return m
}

func advance(t *testing.T, m *Machine, session model.ConversationSession, utterance string) (model.ConversationSession, model.Response) {
	t.Helper()
	next, resp, err := m.Advance(context.Background(), session, utterance)
	require.NoError(t, err)
	return next, resp
}

func TestAdvance_CompleteInOneTurn(t *testing.T) {
	m := newTestMachine(t, staticSource{})

	session, resp := advance(t, m, m.NewSession("u1"), "Spent 500 on food at Swiggy")

	assert.Equal(t, model.StateComplete, resp.State)
	assert.Equal(t, model.StateComplete, session.State)
	assert.Nil(t, session.Pending)
	require.NotNil(t, resp.Transaction)
	txn := resp.Transaction
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "Food", txn.Category)
	assert.Equal(t, "Swiggy", txn.Merchant)
	assert.Equal(t, model.IntentExpense, txn.Kind)
	assert.Equal(t, "u1", txn.UserID)
	assert.Empty(t, txn.Hash)
	assert.NoError(t, txn.Validate())
	assert.Contains(t, resp.Message, "₹500.00")
}

func TestAdvance_MissingAmountThenReply(t *testing.T) {
	m := newTestMachine(t, staticSource{})

	session, resp := advance(t, m, m.NewSession("u1"), "spent on food")
	assert.Equal(t, model.StateNeedsInfo, resp.State)
	assert.Equal(t, model.StateAwaitingReply, session.State)
	assert.Equal(t, []model.Slot{model.SlotAmount}, session.Missing)
	assert.Nil(t, resp.Transaction)

	session, resp = advance(t, m, session, "500")
	assert.Equal(t, model.StateComplete, resp.State)
	require.NotNil(t, resp.Transaction)
	assert.True(t, resp.Transaction.Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "Food", resp.Transaction.Category)
	assert.Equal(t, model.StateComplete, session.State)
}

func TestAdvance_LowConfidenceOffersTopTwo(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantIndex int
		want      string
	}{
		{name: "ordinal number", reply: "2", wantIndex: 1},
		{name: "ordinal word", reply: "first", wantIndex: 0},
		{name: "known category", reply: "groceries", want: "Groceries"},
		{name: "free text", reply: "gym", want: "Gym"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t, staticSource{})

			session, resp := advance(t, m, m.NewSession("u1"), "paid 300 for xyzzy")
			require.Equal(t, model.StateNeedsInfo, resp.State)
			require.Len(t, resp.Suggestions, 2)
			assert.Equal(t, []model.Slot{model.SlotCategory}, session.Missing)
			assert.True(t, model.HasIssue(resp.Issues, model.IssueLowConfidenceCategory))
			require.NotNil(t, resp.Categorization)
			assert.False(t, resp.Categorization.AutoApplicable)
			assert.Equal(t, model.SourceFused, resp.Categorization.Source)

			want := tt.want
			if want == "" {
				want = resp.Suggestions[tt.wantIndex]
			}

			session, resp = advance(t, m, session, tt.reply)
			require.Equal(t, model.StateComplete, resp.State)
			assert.Equal(t, want, resp.Transaction.Category)
			assert.True(t, resp.Transaction.Amount.Equal(decimal.NewFromInt(300)))
			assert.Equal(t, 1, session.TurnCount)
		})
	}
}

func TestAdvance_MerchantReplyResolvesCategory(t *testing.T) {
	m := newTestMachine(t, staticSource{})

	session, resp := advance(t, m, m.NewSession("u1"), "spent 450")
	require.Equal(t, model.StateNeedsInfo, resp.State)

	_, resp = advance(t, m, session, "at Swiggy")
	require.Equal(t, model.StateComplete, resp.State)
	assert.Equal(t, "Swiggy", resp.Transaction.Merchant)
	assert.Equal(t, "Food", resp.Transaction.Category)
	assert.Equal(t, model.SourceGlobalModel, resp.Transaction.Source)
}

func TestAdvance_TimeoutCancelsAndDiscards(t *testing.T) {
	m := newTestMachine(t, staticSource{})

	session, _ := advance(t, m, m.NewSession("u1"), "paid 300 for xyzzy")
	var resp model.Response
	for i := 0; i < DefaultConfig().MaxTurns; i++ {
		require.Equal(t, model.StateAwaitingReply, session.State, "turn %d", i)
		session, resp = advance(t, m, session, "i really do not know honestly")
	}

	assert.Equal(t, model.StateCancelled, resp.State)
	assert.Equal(t, model.StateCancelled, session.State)
	assert.Nil(t, session.Pending)
	assert.Nil(t, resp.Transaction)
	assert.True(t, model.HasIssue(resp.Issues, model.IssueSessionTimeout))
}

func TestAdvance_CancelWord(t *testing.T) {
	m := newTestMachine(t, staticSource{})

	session, _ := advance(t, m, m.NewSession("u1"), "spent on food")
	session, resp := advance(t, m, session, "Never mind!")

	assert.Equal(t, model.StateCancelled, resp.State)
	assert.Equal(t, model.StateCancelled, session.State)
	assert.Nil(t, session.Pending)
}

func TestAdvance_QueryBypassesTransactions(t *testing.T) {
	m := newTestMachine(t, staticSource{})

	session, resp := advance(t, m, m.NewSession("u1"), "How much did I spend on food this month?")

	assert.Nil(t, resp.Transaction)
	require.NotNil(t, resp.Query)
	assert.Equal(t, "Food", resp.Query.Category)
	assert.Equal(t, model.RangeThisMonth, resp.Query.TimeRange)
	require.NotNil(t, resp.Query.Start)
	require.NotNil(t, resp.Query.End)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *resp.Query.Start)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), *resp.Query.End)
	assert.Equal(t, model.StateIdle, session.State)
}

func TestAdvance_QueryCategoryOnlyWhenKnown(t *testing.T) {
	taught := learner.NewContext("u1", []model.CategoryMapping{{
		UserID: "u1", Scope: model.ScopeKeyword, Key: "protein",
		Category: "Fitness", Weight: 2, ObservationCount: 2,
	}}, learner.DefaultConfig())

	tests := []struct {
		name      string
		utterance string
		want      string
	}{
		{name: "leftover verb", utterance: "How much have I spent this month?"},
		{name: "generic noun", utterance: "Show me my expenses this month"},
		{name: "phrase", utterance: "How much money went out this month?"},
		{name: "unknown on phrase", utterance: "How much did I spend on coffee this week?"},
		{name: "plural category", utterance: "How much did I spend on groceries last month?", want: "Groceries"},
		{name: "taught category", utterance: "What did I spend for fitness this year?", want: "Fitness"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t, staticSource{lc: taught})

			_, resp := advance(t, m, m.NewSession("u1"), tt.utterance)

			require.NotNil(t, resp.Query, "utterance %q", tt.utterance)
			assert.Equal(t, tt.want, resp.Query.Category)
		})
	}
}

func TestAdvance_UnknownFallsBack(t *testing.T) {
	m := newTestMachine(t, staticSource{})

	session, resp := advance(t, m, m.NewSession("u1"), "hello there")

	assert.Equal(t, model.StateIdle, session.State)
	assert.True(t, model.HasIssue(resp.Issues, model.IssueParseFailure))
	assert.Nil(t, resp.Transaction)
	assert.NotEmpty(t, resp.Message)
}

func TestAdvance_YesterdayBackdates(t *testing.T) {
	m := newTestMachine(t, staticSource{})

	_, resp := advance(t, m, m.NewSession("u1"), "spent 200 on fuel yesterday")

	require.NotNil(t, resp.Transaction)
	assert.Equal(t, "Fuel", resp.Transaction.Category)
	assert.Equal(t, fixedNow.AddDate(0, 0, -1), resp.Transaction.OccurredAt)
}

func TestAdvance_LearnerFailure(t *testing.T) {
	boom := errors.New("store offline")
	m := newTestMachine(t, staticSource{err: boom})
	start := m.NewSession("u1")

	session, _, err := m.Advance(context.Background(), start, "spent 500 on food")

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, start, session)
}

func TestAdvance_LearnedMappingCompletesUnknownMerchant(t *testing.T) {
	lc := learner.NewContext("u1", []model.CategoryMapping{{
		UserID: "u1", Scope: model.ScopeMerchant, Key: "corner shop",
		Category: "Groceries", Weight: 10, ObservationCount: 10,
	}}, learner.DefaultConfig())
	m := newTestMachine(t, staticSource{lc: lc})

	_, resp := advance(t, m, m.NewSession("u1"), "paid 120 at corner shop")

	require.Equal(t, model.StateComplete, resp.State)
	assert.Equal(t, "Groceries", resp.Transaction.Category)
	assert.Equal(t, model.SourceFused, resp.Transaction.Source)
}

func TestAdvance_DoesNotMutateInput(t *testing.T) {
	m := newTestMachine(t, staticSource{})

	first, _ := advance(t, m, m.NewSession("u1"), "spent on food")
	snapshot := first.Clone()
	_, _ = advance(t, m, first, "500")

	assert.Equal(t, snapshot, first)
}
