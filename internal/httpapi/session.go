package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/edwardsharp/wild-ai-adventure/internal/platform/id"
)

// SessionCookieName carries the login-session id between requests.
const SessionCookieName = "wild_ai_session"

// Session is the caller-visible view of a login session.
type Session struct {
	ID       string
	UserID   string
	Username string
}

type sessionRecord struct {
	userID    string
	username  string
	expiresAt time.Time
}

// SessionManager issues and tracks cookie-backed login sessions. Ceremony
// state is keyed by the session id, so session lifetime bounds ceremony
// lifetime.
type SessionManager struct {
	mu          sync.Mutex
	ttl         time.Duration
	records     map[string]*sessionRecord
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewSessionManager creates a manager whose sessions live for ttl.
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		ttl:         ttl,
		records:     make(map[string]*sessionRecord),
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// WithClock overrides the manager clock. Test hook.
func (m *SessionManager) WithClock(clock func() time.Time) *SessionManager {
	m.clock = clock
	return m
}

// Ensure returns the request's live session, creating one and setting the
// cookie when the request has none or an expired one.
func (m *SessionManager) Ensure(w http.ResponseWriter, r *http.Request) (Session, error) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if session, ok := m.lookup(cookie.Value); ok {
			return session, nil
		}
	}

	sessionID, err := m.idGenerator()
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	m.records[sessionID] = &sessionRecord{expiresAt: m.clock().Add(m.ttl)}
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return Session{ID: sessionID}, nil
}

// Lookup resolves a session id to its live session.
func (m *SessionManager) Lookup(sessionID string) (Session, bool) {
	return m.lookup(sessionID)
}

func (m *SessionManager) lookup(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[sessionID]
	if !ok {
		return Session{}, false
	}
	if !m.clock().Before(record.expiresAt) {
		delete(m.records, sessionID)
		return Session{}, false
	}
	return Session{ID: sessionID, UserID: record.userID, Username: record.username}, true
}

// SetUser marks the session as authenticated for the given identity.
func (m *SessionManager) SetUser(sessionID, userID, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record, ok := m.records[sessionID]; ok {
		record.userID = userID
		record.username = username
	}
}

// ClearUser removes authentication from the session, keeping the session
// itself so the same cookie keeps working.
func (m *SessionManager) ClearUser(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record, ok := m.records[sessionID]; ok {
		record.userID = ""
		record.username = ""
	}
}
