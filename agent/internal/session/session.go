package session

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Credentials is the portal login. It is held in memory only.
type Credentials struct {
	Username string
	Password string
}

// LogValue keeps the password out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("password", "[redacted]"),
	)
}

// Session is an authenticated cookie session against the portal. Callers
// treat it as opaque and only hand it back to the manager or the scraper.
type Session struct {
	client    *http.Client
	createdAt time.Time

	mu      sync.Mutex
	expiry  map[string]time.Time // cookie name -> expiry, persistent cookies only
	invalid bool
}

// Client returns the HTTP client carrying this session's cookies.
func (s *Session) Client() *http.Client {
	return s.client
}

// CreatedAt returns when the login handshake completed.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// ExpiresAt returns the earliest expiry among the persistent cookies the
// upstream has set. ok is false when the upstream only sets browser-session
// cookies and so gives no expiry signal.
func (s *Session) ExpiresAt() (t time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exp := range s.expiry {
		if !ok || exp.Before(t) {
			t, ok = exp, true
		}
	}
	return t, ok
}

func (s *Session) observeCookie(c *http.Cookie, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case c.MaxAge < 0:
		delete(s.expiry, c.Name)
	case c.MaxAge > 0:
		s.expiry[c.Name] = now.Add(time.Duration(c.MaxAge) * time.Second)
	case !c.Expires.IsZero():
		if c.Expires.After(now) {
			s.expiry[c.Name] = c.Expires
		} else {
			delete(s.expiry, c.Name)
		}
	}
}

func (s *Session) markInvalid() {
	s.mu.Lock()
	s.invalid = true
	s.mu.Unlock()
}

func (s *Session) isInvalid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalid
}
