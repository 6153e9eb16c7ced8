package session

import (
	"crypto/tls"
	"net/http"
	"time"
)

// DefaultTimeout bounds every upstream request, login and statistics alike.
const DefaultTimeout = 30 * time.Second

// NewTransport returns the base round tripper shared by all sessions.
func NewTransport(insecureSkipVerify bool) http.RoundTripper {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // user-configured
		},
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// expiryRoundTripper watches Set-Cookie headers on every hop, including
// redirects, and feeds them to the session's expiry bookkeeping.
type expiryRoundTripper struct {
	base http.RoundTripper
	sess *Session
	now  func() time.Time
}

func (t *expiryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	now := t.now()
	for _, c := range resp.Cookies() {
		t.sess.observeCookie(c, now)
	}
	return resp, nil
}
