package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
	"github.com/Veraticus/chatfin/internal/service"
)

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	Session  model.ConversationSession
	Response model.Response
	// Saved reports whether a completed transaction was persisted.
	Saved bool
	// Replayed reports a retried turn whose transaction an earlier attempt
	// already saved. Nothing new was written or learned.
	Replayed bool
}

// AdvanceConversation runs one turn of the user's session. An empty or
// unknown sessionID starts a new session. Completed transactions are saved
// and fed back to the learner as confirmations in one storage transaction;
// queries are answered from analytics. Every completion is kept, so the same
// purchase told twice is two entries. Retrying a turn that failed after its
// transaction was saved does not save it again.
func (s *Service) AdvanceConversation(ctx context.Context, userID, sessionID, utterance string) (*TurnResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("conversation requires a user")
	}

	if sessionID == "" {
		sessionID = s.newID()
	}
	unlock := s.locks.session(userID, sessionID)
	defer unlock()

	session, stored, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	turn := turnKey(session, stored, utterance)

	next, resp, err := s.deps.Machine.Advance(ctx, session, utterance)
	if err != nil {
		return nil, fmt.Errorf("failed to advance conversation: %w", err)
	}
	result := &TurnResult{Session: next, Response: resp}

	switch {
	case resp.State == model.StateComplete && resp.Transaction != nil:
		if err := s.complete(ctx, resp.Transaction, turn, result); err != nil {
			return nil, err
		}
	case resp.Query != nil:
		summary, err := s.deps.Analytics.Summarize(ctx, userID, *resp.Query)
		if err != nil {
			return nil, fmt.Errorf("failed to answer query: %w", err)
		}
		result.Response.Summary = summary
	}

	if err := s.deps.Sessions.SaveSession(ctx, &result.Session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Debug("Conversation turn",
		"user_id", userID,
		"session_id", sessionID,
		"state", resp.State,
		"turn", next.TurnCount)

	return result, nil
}

func (s *Service) loadSession(ctx context.Context, userID, sessionID string) (model.ConversationSession, bool, error) {
	stored, err := s.deps.Sessions.GetSession(ctx, userID, sessionID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		session := s.deps.Machine.NewSession(userID)
		session.ID = sessionID
		return session, false, nil
	case err != nil:
		return model.ConversationSession{}, false, fmt.Errorf("failed to load session: %w", err)
	default:
		return *stored, true, nil
	}
}

// turnKey names a turn by the stored session version it started from and the
// utterance. A session that was never stored has no stable version, so its
// turns get no key.
func turnKey(session model.ConversationSession, stored bool, utterance string) string {
	if !stored {
		return ""
	}
	return fmt.Sprintf("%s:%s:%d:%d:%s", session.UserID, session.ID, session.TurnCount,
		session.UpdatedAt.UnixNano(), utterance)
}

// complete saves txn and records it as a confirmation atomically. The
// transaction is keyed by the turn rather than its content: a keyed turn
// always derives the same ID, so a replay hits the existing row and rolls
// back without learning twice.
func (s *Service) complete(ctx context.Context, txn *model.Transaction, turn string, result *TurnResult) error {
	if turn != "" {
		txn.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(turn)).String()
	}
	txn.Hash = "conversation:" + txn.ID

	amount := txn.Amount
	obs := model.Observation{
		UserID:    txn.UserID,
		Category:  txn.Category,
		Merchant:  txn.Merchant,
		Text:      txn.Note,
		Amount:    &amount,
		Confirmed: true,
	}
	err := s.deps.Learner.RecordWith(ctx, obs, func(ctx context.Context, tx service.Transaction) error {
		return tx.SaveTransaction(ctx, txn)
	})
	switch {
	case errors.Is(err, common.ErrDuplicateEntry):
		result.Saved = true
		result.Replayed = true
		slog.Debug("Replayed completed turn", "user_id", txn.UserID, "transaction_id", txn.ID)
		return nil
	case err != nil:
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	result.Saved = true
	return nil
}

// EndConversation discards a session.
func (s *Service) EndConversation(ctx context.Context, userID, sessionID string) error {
	unlock := s.locks.session(userID, sessionID)
	defer unlock()
	return s.deps.Sessions.DeleteSession(ctx, userID, sessionID)
}
