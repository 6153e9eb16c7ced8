package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"
	"golang.org/x/net/publicsuffix"
)

// maxBody caps how much of an upstream page is read.
const maxBody = 2 << 20

// passwordField matches the portal's login form. Its presence in a response
// means the portal wants credentials: either a login was rejected or a
// session has lapsed.
const passwordField = `input[name="UserPassword"]`

// Manager authenticates against the portal and owns the current session.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	endpoints Endpoints
	transport http.RoundTripper
	timeout   time.Duration
	clock     clockwork.Clock

	mu      sync.Mutex
	current *Session
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for expiry checks.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithTransport replaces the base round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(m *Manager) { m.transport = rt }
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// NewManager returns a Manager for the portal rooted at baseURL.
func NewManager(baseURL string, opts ...Option) (*Manager, error) {
	ep, err := ResolveEndpoints(baseURL)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	m := &Manager{
		endpoints: ep,
		transport: http.DefaultTransport,
		timeout:   DefaultTimeout,
		clock:     clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Endpoints returns the resolved portal URLs.
func (m *Manager) Endpoints() Endpoints {
	return m.endpoints
}

// Authenticate performs the login handshake and returns a fresh Session.
// It does not retry and does not replace the held session; see Ensure.
//
// Rejected credentials yield an error matching ErrAuthentication. An
// unreachable portal, a server error or an unreadable response yields
// ErrTransport.
func (m *Manager) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, AuthError("login", errors.New("username and password are required"))
	}

	slog.Debug("session: authenticating", "credentials", creds, "endpoint", m.endpoints.Login)
	s := m.newSession()

	// The login page hands out the initial cookies the form post expects.
	resp, err := m.do(ctx, s, http.MethodGet, m.endpoints.LoginPage, nil)
	if err != nil {
		return nil, TransportError("login page", err)
	}
	drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, TransportError("login page", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	form := url.Values{
		"UserName":     {creds.Username},
		"UserPassword": {creds.Password},
	}
	resp, err = m.do(ctx, s, http.MethodPost, m.endpoints.Login, form)
	if err != nil {
		return nil, TransportError("login", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, AuthError("login", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, TransportError("login", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, TransportError("login", fmt.Errorf("read response: %w", err))
	}
	if IsLoginPage(doc) || isLoginURL(resp.Request.URL) {
		slog.Debug("session: credentials rejected", "username", creds.Username)
		return nil, AuthError("login", errors.New("portal returned the login form"))
	}

	s.createdAt = m.clock.Now()
	exp, hasExp := s.ExpiresAt()
	slog.Debug("session: authenticated",
		"username", creds.Username,
		"expires_known", hasExp,
		"expires_at", exp,
	)
	return s, nil
}

// IsValid reports, without network I/O, whether s is still usable. Sessions
// with no cookie expiry signal are valid until invalidated.
func (m *Manager) IsValid(s *Session) bool {
	if s == nil || s.isInvalid() {
		return false
	}
	if exp, ok := s.ExpiresAt(); ok && !m.clock.Now().Before(exp) {
		return false
	}
	return true
}

// Ensure returns the held session if it is still valid, otherwise it
// authenticates and holds the new session.
func (m *Manager) Ensure(ctx context.Context, creds Credentials) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsValid(m.current) {
		slog.Debug("session: reusing held session", "created_at", m.current.CreatedAt())
		return m.current, nil
	}
	if m.current != nil {
		slog.Debug("session: held session no longer valid, re-authenticating")
		m.current = nil
	}

	s, err := m.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	m.current = s
	return s, nil
}

// Invalidate marks s unusable, typically after the portal bounced a data
// request back to the login page. The next Ensure authenticates again.
func (m *Manager) Invalidate(s *Session) {
	if s == nil {
		return
	}
	s.markInvalid()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == s {
		m.current = nil
	}
	slog.Debug("session: invalidated", "created_at", s.CreatedAt())
}

// IsLoginPage reports whether doc is the portal's login form.
func IsLoginPage(doc *goquery.Document) bool {
	return doc.Find(passwordField).Length() > 0
}

// IsLoginRedirect reports whether resp landed on the login page after
// following redirects.
func IsLoginRedirect(resp *http.Response) bool {
	return resp != nil && resp.Request != nil && isLoginURL(resp.Request.URL)
}

func (m *Manager) newSession() *Session {
	// cookiejar.New never returns a non-nil error.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	s := &Session{expiry: make(map[string]time.Time)}
	s.client = &http.Client{
		Jar:     jar,
		Timeout: m.timeout,
		Transport: &expiryRoundTripper{
			base: m.transport,
			sess: s,
			now:  m.clock.Now,
		},
	}
	return s
}

func (m *Manager) do(ctx context.Context, s *Session, method, target string, form url.Values) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return s.client.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	resp.Body.Close()
}
