package session

import (
	"fmt"
	"net/url"
	"strings"
)

// Portal paths, relative to the configured base URL.
const (
	loginPagePath  = "login.jsp"
	loginPath      = "login"
	statisticsPath = "clienti/consumiCustomer.jsp"
)

// Endpoints are the absolute portal URLs derived from the base URL.
type Endpoints struct {
	LoginPage  string
	Login      string
	Statistics string
}

// ResolveEndpoints derives the portal URLs from base, e.g.
// https://www.octotelematics.it/octo.
func ResolveEndpoints(base string) (Endpoints, error) {
	u, err := url.Parse(base)
	if err != nil {
		return Endpoints{}, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoints{}, fmt.Errorf("base url %q is not absolute", base)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	ref := func(p string) string {
		return u.ResolveReference(&url.URL{Path: p}).String()
	}
	return Endpoints{
		LoginPage:  ref(loginPagePath),
		Login:      ref(loginPath),
		Statistics: ref(statisticsPath),
	}, nil
}

// isLoginURL reports whether u is the portal's login page, which the portal
// redirects to when a session is missing or expired.
func isLoginURL(u *url.URL) bool {
	return u != nil && strings.HasSuffix(u.Path, "/"+loginPagePath)
}
