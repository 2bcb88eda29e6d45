package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/chatfin/internal/classifier"
	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/conversation"
	"github.com/Veraticus/chatfin/internal/document"
	"github.com/Veraticus/chatfin/internal/engine"
	"github.com/Veraticus/chatfin/internal/intent"
	"github.com/Veraticus/chatfin/internal/learner"
	"github.com/Veraticus/chatfin/internal/model"
	"github.com/Veraticus/chatfin/internal/ocr"
	"github.com/Veraticus/chatfin/internal/search"
	"github.com/Veraticus/chatfin/internal/service"
	"github.com/Veraticus/chatfin/internal/testutil"
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

const statement = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>INR
<BANKACCTFROM>
<BANKID>HDFC0001
<ACCTID>50100123
<ACCTTYPE>SAVINGS
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240301120000[0:GMT]
<DTEND>20240331120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240302120000[0:GMT]
<TRNAMT>-320.00
<FITID>A1
<NAME>POS PURCHASE SWIGGY
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240309120000[0:GMT]
<TRNAMT>-410.00
<FITID>A2
<NAME>POS PURCHASE SWIGGY
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240301120000[0:GMT]
<TRNAMT>85000.00
<FITID>A3
<NAME>SALARY ACME CORP
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>84270.00
<DTASOF>20240331120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

type fixture struct {
	svc *Service
	db  *testutil.TestDB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, nil)
}

// newFixtureWith lets a test put a wrapper in front of the learner's store or
// the session store. A nil wrapper uses the test database directly.
func newFixtureWith(t *testing.T, learnerStore func(service.Storage) learner.Store, sessions func(service.SessionStore) service.SessionStore) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)

	var ls learner.Store = db.Storage
	if learnerStore != nil {
		ls = learnerStore(db.Storage)
	}
	var ss service.SessionStore = db.Storage
	if sessions != nil {
		ss = sessions(db.Storage)
	}

	l := learner.New(ls, learner.DefaultConfig())
	parser := intent.NewParser()
	categorizer, err := engine.New(classifier.DefaultModel(), engine.DefaultConfig())
	require.NoError(t, err)

	svc, err := New(Deps{
		Storage:     db.Storage,
		Sessions:    ss,
		Analytics:   db.Storage,
		OCR:         ocr.PlainText{},
		Learner:     l,
		Parser:      parser,
		Structurer:  document.NewStructurer(document.DefaultOptions()),
		Categorizer: categorizer,
		Machine:     conversation.NewMachine(parser, categorizer, l, conversation.DefaultConfig()),
		Index:       search.NewIndex(search.DefaultOptions()),
	})
	require.NoError(t, err)
	return &fixture{svc: svc, db: db}
}

// failingEvents breaks the learning history inside a storage transaction.
type failingEvents struct {
	service.Transaction
}

func (failingEvents) AppendLearningEvent(context.Context, *model.LearningEvent) error {
	return errors.New("learning history unavailable")
}

type failingLearnerStore struct {
	service.Storage
}

func (s failingLearnerStore) BeginTx(ctx context.Context) (service.Transaction, error) {
	tx, err := s.Storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return failingEvents{Transaction: tx}, nil
}

// flakySessions fails the next failSaves session writes.
type flakySessions struct {
	service.SessionStore
	failSaves int
}

func (f *flakySessions) SaveSession(ctx context.Context, session *model.ConversationSession) error {
	if f.failSaves > 0 {
		f.failSaves--
		return errors.New("session store unavailable")
	}
	return f.SessionStore.SaveSession(ctx, session)
}

func (f *fixture) mappings(t *testing.T, userID string) map[model.MappingKey]model.CategoryMapping {
	t.Helper()
	list, err := f.db.Storage.LoadCategoryMappings(context.Background(), userID)
	require.NoError(t, err)
	out := make(map[model.MappingKey]model.CategoryMapping, len(list))
	for _, m := range list {
		out[m.MapKey()] = m
	}
	return out
}

func TestNew_ValidatesDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage dependency is required")
}

func TestService_ConversationSavesAndLearns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	turn, err := f.svc.AdvanceConversation(ctx, "u1", "", "Spent 500 on food at Swiggy")
	require.NoError(t, err)

	assert.Equal(t, model.StateComplete, turn.Response.State)
	assert.True(t, turn.Saved)
	assert.False(t, turn.Replayed)
	require.NotNil(t, turn.Response.Transaction)

	saved, err := f.db.Storage.GetTransaction(ctx, "u1", turn.Response.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "Food", saved.Category)

	merchant := f.mappings(t, "u1")[model.MappingKey{Scope: model.ScopeMerchant, Key: "swiggy", Category: "Food"}]
	assert.InDelta(t, 1.0, merchant.Weight, 1e-9)
	assert.Equal(t, 1, merchant.ObservationCount)

	stored, err := f.db.Storage.GetSession(ctx, "u1", turn.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateComplete, stored.State)
}

func TestService_ConversationAcrossTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.AdvanceConversation(ctx, "u1", "chat-1", "spent on groceries at dmart")
	require.NoError(t, err)
	assert.Equal(t, model.StateNeedsInfo, first.Response.State)
	assert.Equal(t, "chat-1", first.Session.ID)
	assert.False(t, first.Saved)

	second, err := f.svc.AdvanceConversation(ctx, "u1", "chat-1", "650")
	require.NoError(t, err)
	assert.Equal(t, model.StateComplete, second.Response.State)
	require.NotNil(t, second.Response.Transaction)
	assert.True(t, second.Response.Transaction.Amount.Equal(decimal.NewFromInt(650)))
	assert.Equal(t, "Groceries", second.Response.Transaction.Category)
	assert.True(t, second.Saved)

	require.NoError(t, f.svc.EndConversation(ctx, "u1", "chat-1"))
	_, err = f.db.Storage.GetSession(ctx, "u1", "chat-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestService_SamePurchaseTwiceIsKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		turn, err := f.svc.AdvanceConversation(ctx, "u1", "", "Spent 500 on food at Swiggy")
		require.NoError(t, err)
		assert.True(t, turn.Saved)
		assert.False(t, turn.Replayed)
		require.NotNil(t, turn.Response.Transaction)
		ids = append(ids, turn.Response.Transaction.ID)
	}
	assert.NotEqual(t, ids[0], ids[1])

	txns, err := f.db.Storage.ListTransactions(ctx, "u1", model.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	merchant := f.mappings(t, "u1")[model.MappingKey{Scope: model.ScopeMerchant, Key: "swiggy", Category: "Food"}]
	assert.Equal(t, 2, merchant.ObservationCount)

	// The same purchase told twice inside one session is two entries as well.
	for i := 0; i < 2; i++ {
		turn, err := f.svc.AdvanceConversation(ctx, "u1", "chat-1", "Spent 500 on food at Swiggy")
		require.NoError(t, err)
		assert.True(t, turn.Saved)
		assert.False(t, turn.Replayed)
	}
	txns, err = f.db.Storage.ListTransactions(ctx, "u1", model.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 4)
}

func TestService_CompletionIsAtomicWithLearning(t *testing.T) {
	f := newFixtureWith(t, func(st service.Storage) learner.Store {
		return failingLearnerStore{Storage: st}
	}, nil)
	ctx := context.Background()

	_, err := f.svc.AdvanceConversation(ctx, "u1", "chat-1", "Spent 500 on food at Swiggy")
	require.ErrorContains(t, err, "learning history unavailable")

	txns, err := f.db.Storage.ListTransactions(ctx, "u1", model.QueryFilter{})
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Empty(t, f.mappings(t, "u1"))

	_, err = f.db.Storage.GetSession(ctx, "u1", "chat-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestService_RetryAfterSessionSaveFails(t *testing.T) {
	sessions := &flakySessions{}
	f := newFixtureWith(t, nil, func(st service.SessionStore) service.SessionStore {
		sessions.SessionStore = st
		return sessions
	})
	ctx := context.Background()

	first, err := f.svc.AdvanceConversation(ctx, "u1", "chat-1", "spent on groceries at dmart")
	require.NoError(t, err)
	require.Equal(t, model.StateNeedsInfo, first.Response.State)

	sessions.failSaves = 1
	_, err = f.svc.AdvanceConversation(ctx, "u1", "chat-1", "650")
	require.ErrorContains(t, err, "session store unavailable")

	retry, err := f.svc.AdvanceConversation(ctx, "u1", "chat-1", "650")
	require.NoError(t, err)
	assert.Equal(t, model.StateComplete, retry.Response.State)
	assert.True(t, retry.Saved)
	assert.True(t, retry.Replayed)
	require.NotNil(t, retry.Response.Transaction)

	txns, err := f.db.Storage.ListTransactions(ctx, "u1", model.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, retry.Response.Transaction.ID, txns[0].ID)

	merchant := f.mappings(t, "u1")[model.MappingKey{Scope: model.ScopeMerchant, Key: "dmart", Category: "Groceries"}]
	assert.Equal(t, 1, merchant.ObservationCount)

	stored, err := f.db.Storage.GetSession(ctx, "u1", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateComplete, stored.State)
}

func TestService_QueryAnsweredFromAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, utterance := range []string{"Spent 500 on food at Swiggy", "Spent 250 on food at Zomato"} {
		_, err := f.svc.AdvanceConversation(ctx, "u1", "", utterance)
		require.NoError(t, err)
	}

	turn, err := f.svc.AdvanceConversation(ctx, "u1", "", "How much did I spend on food this month?")
	require.NoError(t, err)
	require.NotNil(t, turn.Response.Query)
	require.NotNil(t, turn.Response.Summary)
	assert.Equal(t, 2, turn.Response.Summary.Count)
	assert.True(t, turn.Response.Summary.Total.Equal(decimal.NewFromInt(750)), turn.Response.Summary.Total.String())
}

func TestService_QueryWithoutCategoryCountsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AdvanceConversation(ctx, "u1", "", "Spent 250 on groceries")
	require.NoError(t, err)

	for _, utterance := range []string{
		"How much did I spend this month?",
		"How much have I spent this month?",
		"Show me my expenses this month",
		"How much money went out this month?",
	} {
		turn, err := f.svc.AdvanceConversation(ctx, "u1", "", utterance)
		require.NoError(t, err)
		require.NotNil(t, turn.Response.Query, utterance)
		assert.Empty(t, turn.Response.Query.Category, utterance)
		require.NotNil(t, turn.Response.Summary, utterance)
		assert.Equal(t, 1, turn.Response.Summary.Count, utterance)
		assert.True(t, turn.Response.Summary.Total.Equal(decimal.NewFromInt(250)), utterance)
	}
}

func TestService_IngestSearchAndCorrect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ingested, err := f.svc.IngestDocument(ctx, "u1", strings.NewReader(groceryReceipt))
	require.NoError(t, err)

	doc := ingested.Document
	assert.Equal(t, "DMART AVENUE SUPERMARTS", doc.Merchant)
	assert.Equal(t, "Groceries", doc.Category)
	assert.Equal(t, "plaintext", doc.OCREngine)
	require.NotNil(t, ingested.Transaction)
	assert.True(t, ingested.Transaction.Amount.Equal(decimal.NewFromInt(450)))
	assert.Equal(t, doc.ID, ingested.Transaction.DocumentID)

	again, err := f.svc.IngestDocument(ctx, "u1", strings.NewReader(groceryReceipt))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Nil(t, again.Transaction)

	results, err := f.svc.SearchDocuments(ctx, "u1", "dmart", model.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 4.0, results[0].Score, 1e-9)

	none, err := f.svc.SearchDocuments(ctx, "u2", "dmart", model.SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, f.svc.CorrectDocument(ctx, "u1", doc.ID, "household"))

	updated, err := f.db.Storage.GetDocument(ctx, "u1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Household", updated.Category)

	events, err := f.db.Storage.ListLearningEvents(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Groceries", events[0].PreviousCategory)
	assert.False(t, events[0].Confirmed)

	household, err := f.svc.SearchDocuments(ctx, "u1", "milk", model.SearchFilters{Category: "Household"})
	require.NoError(t, err)
	require.Len(t, household, 1)
	assert.Equal(t, doc.ID, household[0].DocumentID)

	assert.ErrorIs(t, f.svc.CorrectDocument(ctx, "u1", "missing", "Food"), common.ErrNotFound)
}

func TestService_IngestRejectsEmptyText(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IngestDocument(context.Background(), "u1", strings.NewReader("   "))
	assert.ErrorIs(t, err, common.ErrEmptyDocument)
}

func TestService_CorrectTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	turn, err := f.svc.AdvanceConversation(ctx, "u1", "", "Spent 500 on food at Swiggy")
	require.NoError(t, err)
	id := turn.Response.Transaction.ID

	require.NoError(t, f.svc.CorrectTransaction(ctx, "u1", id, "dining out"))

	txn, err := f.db.Storage.GetTransaction(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, "Dining Out", txn.Category)

	table := f.mappings(t, "u1")
	food := table[model.MappingKey{Scope: model.ScopeMerchant, Key: "swiggy", Category: "Food"}]
	dining := table[model.MappingKey{Scope: model.ScopeMerchant, Key: "swiggy", Category: "Dining Out"}]
	assert.InDelta(t, 0.5, food.Weight, 1e-9)
	assert.InDelta(t, 2.0, dining.Weight, 1e-9)
}

func TestService_ImportStatement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var calls int
	result, err := f.svc.ImportStatement(ctx, "u1", strings.NewReader(statement), ImportOptions{
		Learn:    true,
		Progress: func(_, _ int) { calls++ },
		Workers:  1,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Imported)
	assert.Zero(t, result.Duplicates)
	assert.Equal(t, 2, result.Batch.TotalMerchants)
	assert.Equal(t, 2, calls)

	txns, err := f.db.Storage.ListTransactions(ctx, "u1", model.QueryFilter{Category: "Food"})
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	merchant := f.mappings(t, "u1")[model.MappingKey{Scope: model.ScopeMerchant, Key: "swiggy", Category: "Food"}]
	assert.Equal(t, 1, merchant.ObservationCount)

	again, err := f.svc.ImportStatement(ctx, "u1", strings.NewReader(statement), ImportOptions{})
	require.NoError(t, err)
	assert.Zero(t, again.Imported)
	assert.Equal(t, 3, again.Duplicates)
}

func TestService_Categorize(t *testing.T) {
	f := newFixture(t)
	amount := decimal.NewFromInt(300)

	result, err := f.svc.Categorize(context.Background(), "u1", "dinner", "Zomato", &amount)
	require.NoError(t, err)
	assert.Equal(t, "Food", result.Category)
	assert.Equal(t, model.SourceGlobalModel, result.Source)

	_, err = f.svc.Categorize(context.Background(), "", "dinner", "", nil)
	assert.Error(t, err)

	parsed := f.svc.ParseIntent("Spent 500 on food")
	assert.Equal(t, model.IntentExpense, parsed.Kind)

	doc := f.svc.StructureDocument(groceryReceipt, nil)
	assert.Len(t, doc.Items, 3)
}
