package auth

import (
	"sync"
	"time"
)

// Session is one in-flight authorization attempt, keyed by its state token.
// It is consumed exactly once by a matching callback.
type Session struct {
	State     string
	UserID    string
	Verifier  string
	Challenge string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// sessionStore holds pending sessions with a TTL and a hard capacity. When
// full, the oldest pending session is dropped so an abandoned flow cannot
// grow memory without bound.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	capacity int
	ttl      time.Duration
}

func newSessionStore(capacity int, ttl time.Duration) *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*Session),
		capacity: capacity,
		ttl:      ttl,
	}
}

// put registers a new session, evicting expired entries first and then the
// oldest entry if still at capacity.
func (s *sessionStore) put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for state, pending := range s.sessions {
		if now.After(pending.ExpiresAt) {
			delete(s.sessions, state)
		}
	}
	if len(s.sessions) >= s.capacity {
		var oldest *Session
		for _, pending := range s.sessions {
			if oldest == nil || pending.CreatedAt.Before(oldest.CreatedAt) {
				oldest = pending
			}
		}
		if oldest != nil {
			delete(s.sessions, oldest.State)
		}
	}
	s.sessions[sess.State] = sess
}

// consume removes and returns the session for a state. Unknown or expired
// states return false; an expired session is deleted on the way out.
func (s *sessionStore) consume(state string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[state]
	if !ok {
		return nil, false
	}
	delete(s.sessions, state)
	if time.Now().After(sess.ExpiresAt) {
		return nil, false
	}
	return sess, true
}

// pendingFor reports whether a non-expired session exists for a user.
func (s *sessionStore) pendingFor(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, sess := range s.sessions {
		if sess.UserID == userID && now.Before(sess.ExpiresAt) {
			return true
		}
	}
	return false
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
