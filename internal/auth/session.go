package auth

import (
	"sync"
	"time"
)

// sessionTTL bounds how long a pending login may sit between the redirect to
// the identity provider and the callback.
const sessionTTL = 10 * time.Minute

// Session is one pending PKCE login flow, keyed by its state value.
// Sessions are single-use: the callback handler consumes and deletes them.
type Session struct {
	State        string
	CodeVerifier string
	Nonce        string
	RedirectURI  string
	CreatedAt    time.Time
}

// SessionStore holds pending login sessions in memory. Expired entries are
// swept lazily whenever a new session is created, so no background timer is
// needed.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Put stores a pending session and sweeps expired ones.
func (s *SessionStore) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-sessionTTL)
	for state, existing := range s.sessions {
		if existing.CreatedAt.Before(cutoff) {
			delete(s.sessions, state)
		}
	}
	s.sessions[session.State] = session
}

// Consume atomically retrieves and deletes the session for the given state.
// A state maps to at most one live session, so a replayed callback finds
// nothing. Returns ErrInvalidOrExpiredState when absent or expired.
func (s *SessionStore) Consume(state string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[state]
	if !ok {
		return nil, ErrInvalidOrExpiredState
	}
	delete(s.sessions, state)
	if session.CreatedAt.Before(s.now().Add(-sessionTTL)) {
		return nil, ErrInvalidOrExpiredState
	}
	return session, nil
}
