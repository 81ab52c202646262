package store

import (
	"context"
	"sync"
	"time"

	"github.com/Fabian0270/library-system/internal/util"
)

type memorySession struct {
	userID  string
	expires time.Time
}

// MemorySessionStore keeps opaque sessions in-process (single instance only).
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]memorySession
}

// NewMemorySessionStore builds an in-memory session store.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl, sessions: make(map[string]memorySession)}
}

// NewSession issues a random token for the user.
func (s *MemorySessionStore) NewSession(_ context.Context, userID string) (string, error) {
	token := util.NewToken()
	s.mu.Lock()
	s.sessions[token] = memorySession{userID: userID, expires: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return token, nil
}

// GetUserIDByToken resolves a live token.
func (s *MemorySessionStore) GetUserIDByToken(_ context.Context, token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(sess.expires) {
		delete(s.sessions, token)
		return "", false, nil
	}
	return sess.userID, true, nil
}

// DeleteSession removes a token.
func (s *MemorySessionStore) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// RevokeUserSessions removes every token of the user.
func (s *MemorySessionStore) RevokeUserSessions(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.sessions {
		if sess.userID == userID {
			delete(s.sessions, token)
		}
	}
	return nil
}
