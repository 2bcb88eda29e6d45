package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
)

// MemorySessionStore implements service.SessionStore in memory. Sessions in
// a terminal state are swept after maxAge.
type MemorySessionStore struct {
	sessions        map[string]model.ConversationSession
	stopCh          chan struct{}
	now             func() time.Time
	cleanupInterval time.Duration
	maxAge          time.Duration
	mu              sync.RWMutex
	stopOnce        sync.Once
}

// NewMemorySessionStore creates a new in-memory session store and starts its sweeper.
func NewMemorySessionStore(maxAge time.Duration) *MemorySessionStore {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	store := &MemorySessionStore{
		sessions:        make(map[string]model.ConversationSession),
		cleanupInterval: time.Hour,
		maxAge:          maxAge,
		stopCh:          make(chan struct{}),
		now:             time.Now,
	}

	go store.cleanupLoop()

	return store
}

func sessionKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}

// GetSession returns a copy of the stored session.
func (s *MemorySessionStore) GetSession(ctx context.Context, userID, sessionID string) (*model.ConversationSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionKey(userID, sessionID)]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}

	sessionCopy := session.Clone()
	return &sessionCopy, nil
}

// SaveSession stores a copy of the session.
func (s *MemorySessionStore) SaveSession(ctx context.Context, session *model.ConversationSession) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if session.ID == "" || session.UserID == "" {
		return fmt.Errorf("session ID and user are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionKey(session.UserID, session.ID)] = session.Clone()
	return nil
}

// DeleteSession removes a session.
func (s *MemorySessionStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionKey(userID, sessionID))
	return nil
}

// Len returns the number of stored sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemorySessionStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup removes terminal sessions idle for longer than maxAge.
func (s *MemorySessionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.maxAge)
	for key, session := range s.sessions {
		if session.State.Terminal() && session.UpdatedAt.Before(cutoff) {
			delete(s.sessions, key)
		}
	}
}

// Stop shuts down the sweeper.
func (s *MemorySessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
