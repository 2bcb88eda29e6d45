package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/chatfin/internal/assistant"
	"github.com/Veraticus/chatfin/internal/config"
	"github.com/Veraticus/chatfin/internal/model"
)

func newTestApp(t *testing.T) *app {
	t.Helper()

	v := viper.New()
	config.SetDefaults(v)
	v.Set("user", "tester")
	v.Set("database.path", filepath.Join(t.TempDir(), "chatfin.db"))
	v.Set("sessions.backend", "memory")
	v.Set("ocr.engine", "plaintext")

	cfg, err := config.Load(v)
	require.NoError(t, err)

	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestChatLoop_RecordsAcrossTurns(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	in := strings.NewReader("spent on groceries at dmart\n650\n/quit\n")
	var out bytes.Buffer
	require.NoError(t, chatLoop(ctx, a.svc, a.cfg.User, "₹", in, &out))

	assert.Contains(t, out.String(), "How much was it?")
	assert.Contains(t, out.String(), "Recorded expense of ₹650.00 under Groceries")

	txns, err := a.store.ListTransactions(ctx, a.cfg.User, model.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "Groceries", txns[0].Category)
}

func TestChatLoop_AnswersQueries(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	in := strings.NewReader("Spent 500 on food at Swiggy\nHow much did I spend on food this month?\n")
	var out bytes.Buffer
	require.NoError(t, chatLoop(ctx, a.svc, a.cfg.User, "₹", in, &out))

	assert.Contains(t, out.String(), "Recorded expense of ₹500.00 under Food")
	assert.Contains(t, out.String(), "500.00")
}

func TestChatLoop_SamePurchaseTwice(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	in := strings.NewReader("Spent 500 on food at Swiggy\nSpent 500 on food at Swiggy\n")
	var out bytes.Buffer
	require.NoError(t, chatLoop(ctx, a.svc, a.cfg.User, "₹", in, &out))

	assert.Equal(t, 2, strings.Count(out.String(), "Recorded expense of ₹500.00 under Food"))

	txns, err := a.store.ListTransactions(ctx, a.cfg.User, model.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

// scriptedService replays canned turns and records which sessions ended.
type scriptedService struct {
	turns []*assistant.TurnResult
	ended []string
	seen  []string
	err   error
}

func (s *scriptedService) AdvanceConversation(_ context.Context, _, sessionID, utterance string) (*assistant.TurnResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.seen = append(s.seen, sessionID+":"+utterance)
	turn := s.turns[0]
	s.turns = s.turns[1:]
	return turn, nil
}

func (s *scriptedService) EndConversation(_ context.Context, _, sessionID string) error {
	s.ended = append(s.ended, sessionID)
	return nil
}

func turnIn(id string, state, respState model.SessionState, msg string) *assistant.TurnResult {
	return &assistant.TurnResult{
		Session:  model.ConversationSession{ID: id, State: state},
		Response: model.Response{State: respState, Message: msg},
	}
}

func TestChatLoop_SessionLifecycle(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		turns     []*assistant.TurnResult
		wantSeen  []string
		wantEnded []string
		wantOut   []string
	}{
		{
			name:  "follow-up keeps the session",
			input: "spent on fuel\n900\n",
			turns: []*assistant.TurnResult{
				turnIn("s1", model.StateAwaitingReply, model.StateNeedsInfo, "How much was it?"),
				turnIn("s1", model.StateComplete, model.StateComplete, "Recorded expense of ₹900.00 under Fuel."),
			},
			wantSeen:  []string{":spent on fuel", "s1:900"},
			wantEnded: []string{"s1"},
			wantOut:   []string{"How much was it?", "Recorded expense"},
		},
		{
			name:  "new drops a half-finished entry",
			input: "spent on fuel\n/new\nspent 200 on milk\n",
			turns: []*assistant.TurnResult{
				turnIn("s1", model.StateAwaitingReply, model.StateNeedsInfo, "How much was it?"),
				turnIn("s2", model.StateComplete, model.StateComplete, "Recorded expense of ₹200.00 under Groceries."),
			},
			wantSeen:  []string{":spent on fuel", ":spent 200 on milk"},
			wantEnded: []string{"s1", "s2"},
			wantOut:   []string{"Started over"},
		},
		{
			name:  "quit ends the open session",
			input: "spent on fuel\n/QUIT\nignored\n",
			turns: []*assistant.TurnResult{
				turnIn("s1", model.StateAwaitingReply, model.StateNeedsInfo, "How much was it?"),
			},
			wantSeen:  []string{":spent on fuel"},
			wantEnded: []string{"s1"},
		},
		{
			name:  "blank lines are skipped",
			input: "\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &scriptedService{turns: tt.turns}
			var out bytes.Buffer
			require.NoError(t, chatLoop(context.Background(), svc, "u1", "₹", strings.NewReader(tt.input), &out))

			assert.Equal(t, tt.wantSeen, svc.seen)
			assert.Equal(t, tt.wantEnded, svc.ended)
			for _, want := range tt.wantOut {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}

func TestChatLoop_ReturnsServiceErrors(t *testing.T) {
	svc := &scriptedService{err: errors.New("storage offline")}
	var out bytes.Buffer
	err := chatLoop(context.Background(), svc, "u1", "₹", strings.NewReader("spent 5 on tea\n"), &out)
	assert.ErrorContains(t, err, "storage offline")
}

func TestChatLoop_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &scriptedService{}
	var out bytes.Buffer
	assert.NoError(t, chatLoop(ctx, svc, "u1", "₹", strings.NewReader("spent 5 on tea\n"), &out))
	assert.Empty(t, svc.seen)
}

func TestFormatTurn(t *testing.T) {
	done := turnIn("s1", model.StateComplete, model.StateComplete, "Recorded expense of ₹120.00 under Food.")
	assert.Contains(t, formatTurn(done, "₹"), "Recorded expense")

	cancelled := turnIn("s1", model.StateCancelled, model.StateCancelled, "Okay, cancelled. Nothing was saved.")
	assert.Contains(t, formatTurn(cancelled, "₹"), "Nothing was saved")

	plain := turnIn("s1", model.StateAwaitingReply, model.StateNeedsInfo, "How much was it?")
	assert.Equal(t, "How much was it?", formatTurn(plain, "₹"))
}
