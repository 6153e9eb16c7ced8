// Package auth provides authentication middleware for the agent's HTTP API.
//
// APIKey(mode, header, key) returns chi-compatible middleware that validates
// the API key from the named request header.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent,
// the middleware answers 401 immediately.
package auth
