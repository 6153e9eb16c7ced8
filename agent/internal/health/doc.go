// Package health derives a connector health assessment from the polling
// coordinator's bookkeeping.
//
// window.go tracks the outcome of the last refreshes for an uptime
// percentage. score.go provides the pure Compute(Input) function that
// combines uptime(50%), consecutive failures(30%) and reading
// freshness(20%) into a 0 to 100 score. hints.go turns a status snapshot into
// human-readable diagnostics for GET /api/v1/diagnostics.
//
// Health state thresholds: Healthy ≥85, Degraded 60-84, Critical <60, Unknown.
// A rejected login is always Critical.
package health
