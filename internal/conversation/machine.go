// Package conversation drives multi-turn transaction capture. Sessions are
// plain values: Advance takes one and returns its successor.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/engine"
	"github.com/Veraticus/chatfin/internal/intent"
	"github.com/Veraticus/chatfin/internal/learner"
	"github.com/Veraticus/chatfin/internal/model"
)

// ContextSource provides learner snapshots.
type ContextSource interface {
	Context(ctx context.Context, userID string) (*learner.Context, error)
}

// Config tunes the conversation.
type Config struct {
	CurrencySymbol string
	CancelWords    []string
	MaxTurns       int
	MaxReplyWords  int
}

// DefaultConfig returns the standard conversation settings.
func DefaultConfig() Config {
	return Config{
		CurrencySymbol: "₹",
		CancelWords:    []string{"cancel", "stop", "never mind", "nevermind", "forget it", "abort"},
		MaxTurns:       3,
		MaxReplyWords:  3,
	}
}

// Machine advances conversation sessions.
type Machine struct {
	parser      *intent.Parser
	categorizer *engine.Categorizer
	learner     ContextSource
	now         func() time.Time
	newID       func() string
	cfg         Config
}

// NewMachine creates a Machine.
func NewMachine(parser *intent.Parser, categorizer *engine.Categorizer, source ContextSource, cfg Config) *Machine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if cfg.MaxReplyWords <= 0 {
		cfg.MaxReplyWords = DefaultConfig().MaxReplyWords
	}
	return &Machine{
		parser:      parser,
		categorizer: categorizer,
		learner:     source,
		cfg:         cfg,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// NewSession starts an idle session.
func (m *Machine) NewSession(userID string) model.ConversationSession {
	now := m.now()
	return model.ConversationSession{
		ID:        m.newID(),
		UserID:    userID,
		State:     model.StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance applies one utterance. An AWAITING_REPLY session treats the
// utterance as filling its missing slots; any other session treats it as a
// new command. Errors are returned only when the learner cannot be read.
func (m *Machine) Advance(ctx context.Context, session model.ConversationSession, utterance string) (model.ConversationSession, model.Response, error) {
	next := session.Clone()
	next.UpdatedAt = m.now()
	if next.ID == "" {
		next.ID = m.newID()
		next.CreatedAt = next.UpdatedAt
	}

	if m.isCancel(utterance) {
		return cancel(next), model.Response{
			State:   model.StateCancelled,
			Message: "Okay, cancelled. Nothing was saved.",
		}, nil
	}

	lc, err := m.learner.Context(ctx, next.UserID)
	if err != nil {
		return session, model.Response{}, fmt.Errorf("failed to load learner context: %w", err)
	}

	if next.State == model.StateAwaitingReply && next.Pending != nil {
		return m.reply(next, lc, utterance)
	}
	return m.command(next, lc, utterance)
}

func (m *Machine) command(session model.ConversationSession, lc *learner.Context, utterance string) (model.ConversationSession, model.Response, error) {
	session.State = model.StateParsing
	session.Pending = nil
	session.Missing = nil
	session.Suggestions = nil
	session.TurnCount = 0

	parsed := m.parser.Parse(utterance)
	session.LastIntent = &parsed

	switch {
	case parsed.Kind == model.IntentQuery:
		filter := m.queryFilter(lc, parsed)
		session.State = model.StateIdle
		return session, model.Response{
			State:   model.StateIdle,
			Query:   &filter,
			Message: "Looking that up.",
			Issues:  parsed.Issues,
		}, nil

	case parsed.Kind.IsTransaction():
		session.Pending = &model.PendingTransaction{
			Amount:   parsed.Amount,
			Kind:     parsed.Kind,
			Merchant: parsed.MerchantHint,
			Category: m.explicitCategory(lc, parsed.CategoryHint),
			Text:     strings.TrimSpace(parsed.RawText),
		}
		next, resp := m.resolve(session, lc, parsed.Issues)
		return next, resp, nil

	default:
		session.State = model.StateIdle
		issues := parsed.Issues
		if !model.HasIssue(issues, model.IssueParseFailure) {
			issues = append(issues, model.Issue{Code: model.IssueParseFailure, Message: "unrecognized request"})
		}
		return session, model.Response{
			State:   model.StateIdle,
			Message: "Sorry, I didn't understand. Try \"spent 200 on groceries\" or \"how much did I spend this month\".",
			Issues:  issues,
		}, nil
	}
}

// reply merges an answer into the pending transaction. Only missing slots
// are filled; the answer is never treated as a new command.
func (m *Machine) reply(session model.ConversationSession, lc *learner.Context, utterance string) (model.ConversationSession, model.Response, error) {
	session.State = model.StateParsing
	session.TurnCount++
	pending := session.Pending
	text := strings.TrimSpace(utterance)
	parsed := m.parser.Parse(text)

	var issues []model.Issue
	filledAmount := false
	if pending.Amount == nil {
		if parsed.Amount != nil {
			pending.Amount = parsed.Amount
			filledAmount = true
		} else {
			for _, issue := range parsed.Issues {
				if issue.Code == model.IssueInvalidNumericInput {
					issues = append(issues, issue)
				}
			}
		}
	}

	merchantReply := isMerchantReply(text)
	if merchantReply && pending.Merchant == "" && parsed.MerchantHint != "" {
		pending.Merchant = parsed.MerchantHint
	}

	if pending.Category == "" {
		pending.Category = m.categoryFromReply(session, lc, text, parsed, filledAmount, merchantReply)
	}
	if pending.Category == "" {
		pending.Text = strings.TrimSpace(pending.Text + " " + text)
	}

	next, resp := m.resolve(session, lc, issues)
	if next.State == model.StateComplete || next.TurnCount < m.cfg.MaxTurns {
		return next, resp, nil
	}

	slog.Info("Conversation abandoned",
		"user_id", next.UserID,
		"session_id", next.ID,
		"turns", next.TurnCount)
	msg := "I still couldn't complete that, so I've dropped it. Nothing was saved."
	return cancel(next), model.Response{
		State:   model.StateCancelled,
		Message: msg,
		Issues: append(resp.Issues, model.Issue{
			Code:    model.IssueSessionTimeout,
			Message: fmt.Sprintf("no resolution after %d replies", next.TurnCount),
		}),
	}, nil
}

// categoryFromReply reads a category answer: an ordinal picking a suggestion,
// a known category name, or short free text.
func (m *Machine) categoryFromReply(session model.ConversationSession, lc *learner.Context, text string, parsed model.ParsedIntent, filledAmount, merchantReply bool) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 || merchantReply {
		return ""
	}

	if !filledAmount && len(words) <= 2 {
		for _, w := range words {
			if idx, ok := ordinal(w); ok && idx < len(session.Suggestions) {
				return session.Suggestions[idx]
			}
		}
	}

	for _, s := range session.Suggestions {
		if strings.EqualFold(text, s) {
			return s
		}
	}
	if known := m.explicitCategory(lc, text); known != "" {
		return known
	}
	if known := m.explicitCategory(lc, parsed.CategoryHint); known != "" {
		return known
	}

	if filledAmount || len(words) > m.cfg.MaxReplyWords {
		return ""
	}
	return learner.NormalizeCategory(contentWords(text))
}

func isMerchantReply(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	return len(words) > 1 && (words[0] == "at" || words[0] == "from")
}

func contentWords(text string) string {
	var kept []string
	for _, w := range common.Tokenize(text) {
		if intent.IsStopWord(w) || common.IsNumeric(w) {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// resolve decides whether the pending transaction is complete.
func (m *Machine) resolve(session model.ConversationSession, lc *learner.Context, issues []model.Issue) (model.ConversationSession, model.Response) {
	pending := session.Pending
	session.Missing = nil
	session.Suggestions = nil

	var categorization *model.CategorizationResult
	category := pending.Category
	confident := category != ""
	source := model.SourceUserMapping
	confidence := 1.0

	if !confident {
		result := m.categorizer.Categorize(lc, pending.Text, pending.Merchant, pending.Amount)
		categorization = &result
		if result.AutoApplicable {
			category = result.Category
			confident = true
			source = result.Source
			confidence = result.Confidence
		} else {
			session.Suggestions = result.CandidateNames()
			issues = append(issues, model.Issue{
				Code:    model.IssueLowConfidenceCategory,
				Field:   string(model.SlotCategory),
				Message: fmt.Sprintf("best guess %q scored %.2f", result.Category, result.Confidence),
				Score:   result.Confidence,
			})
		}
	}

	if pending.Amount == nil {
		session.Missing = append(session.Missing, model.SlotAmount)
	}
	if !confident {
		session.Missing = append(session.Missing, model.SlotCategory)
	}

	if len(session.Missing) > 0 {
		session.State = model.StateAwaitingReply
		return session, model.Response{
			State:          model.StateNeedsInfo,
			Message:        m.clarification(session),
			Suggestions:    session.Suggestions,
			Categorization: categorization,
			Issues:         issues,
		}
	}

	now := m.now()
	txn := &model.Transaction{
		ID:         m.newID(),
		UserID:     session.UserID,
		Kind:       pending.Kind,
		Amount:     *pending.Amount,
		Merchant:   pending.Merchant,
		Category:   category,
		Note:       pending.Text,
		Source:     source,
		Confidence: confidence,
		OccurredAt: m.occurredAt(session, now),
		CreatedAt:  now,
	}

	session.State = model.StateComplete
	session.Pending = nil
	session.Missing = nil
	session.Suggestions = nil

	return session, model.Response{
		State:          model.StateComplete,
		Transaction:    txn,
		Categorization: categorization,
		Message:        m.confirmation(txn),
		Issues:         issues,
	}
}

func cancel(session model.ConversationSession) model.ConversationSession {
	session.State = model.StateCancelled
	session.Pending = nil
	session.Missing = nil
	session.Suggestions = nil
	return session
}

func (m *Machine) clarification(session model.ConversationSession) string {
	switch {
	case session.IsMissing(model.SlotAmount) && session.IsMissing(model.SlotCategory):
		return "How much was it, and what category should I use?"
	case session.IsMissing(model.SlotAmount):
		return "How much was it?"
	case len(session.Suggestions) > 0:
		var b strings.Builder
		b.WriteString("Which category fits best?")
		for i, s := range session.Suggestions {
			fmt.Fprintf(&b, " %d) %s", i+1, s)
		}
		b.WriteString(" Or type another.")
		return b.String()
	default:
		return "Which category should I use?"
	}
}

func (m *Machine) confirmation(txn *model.Transaction) string {
	verb := map[model.IntentKind]string{
		model.IntentExpense: "Recorded expense of",
		model.IntentIncome:  "Recorded income of",
		model.IntentSaving:  "Recorded saving of",
	}[txn.Kind]
	msg := fmt.Sprintf("%s %s%s under %s", verb, m.cfg.CurrencySymbol, txn.Amount.StringFixed(2), txn.Category)
	if txn.Merchant != "" {
		msg += " at " + txn.Merchant
	}
	return msg + "."
}

// queryFilter narrows by category only when the hint names a category the
// model or the user knows. Leftover words such as "have" or "expenses" do not filter.
func (m *Machine) queryFilter(lc *learner.Context, parsed model.ParsedIntent) model.QueryFilter {
	filter := model.QueryFilter{
		TimeRange: parsed.TimeRange,
		Merchant:  parsed.MerchantHint,
		Category:  m.explicitCategory(lc, parsed.CategoryHint),
	}
	if start, end, ok := intent.ResolveTimeRange(parsed.TimeRange, m.now()); ok {
		filter.Start = &start
		filter.End = &end
	}
	return filter
}

// occurredAt backdates transactions described as yesterday's.
func (m *Machine) occurredAt(session model.ConversationSession, now time.Time) time.Time {
	if session.LastIntent != nil && session.LastIntent.TimeRange == model.RangeYesterday {
		return now.AddDate(0, 0, -1)
	}
	return now
}

// explicitCategory returns the known category the hint names, comparing
// case-insensitively and ignoring plural endings.
func (m *Machine) explicitCategory(lc *learner.Context, hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}
	want := singularPhrase(hint)
	for _, known := range m.categorizer.KnownCategories(lc) {
		if singularPhrase(known) == want {
			return known
		}
	}
	return ""
}

func singularPhrase(s string) string {
	words := common.Tokenize(s)
	for i, w := range words {
		words[i] = common.Singular(w)
	}
	return strings.Join(words, " ")
}

func (m *Machine) isCancel(utterance string) bool {
	text := strings.Trim(strings.Join(strings.Fields(strings.ToLower(utterance)), " "), ".!? ")
	for _, w := range m.cfg.CancelWords {
		if text == w || text == w+" it" || text == w+" that" {
			return true
		}
	}
	return false
}

var ordinals = map[string]int{
	"1": 0, "one": 0, "first": 0, "1st": 0,
	"2": 1, "two": 1, "second": 1, "2nd": 1,
	"3": 2, "three": 2, "third": 2, "3rd": 2,
}

func ordinal(word string) (int, bool) {
	idx, ok := ordinals[strings.Trim(word, ".)")]
	return idx, ok
}
