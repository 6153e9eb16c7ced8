package api

import (
	"github.com/obsidianstack/octo-agent/agent/internal/alerts"
	"github.com/obsidianstack/octo-agent/agent/internal/health"
	"github.com/obsidianstack/octo-agent/pkg/types"
)

// RefreshResponse is the payload for POST /api/v1/refresh.
type RefreshResponse struct {
	// Started is false when a refresh was already in flight and this
	// request was coalesced into it.
	Started bool `json:"started"`
}

// DiagnosticsResponse is the payload for GET /api/v1/diagnostics.
type DiagnosticsResponse struct {
	Health      health.Output     `json:"health"`
	Hints       []health.Hint     `json:"hints"`
	Cert        *types.CertStatus `json:"cert,omitempty"`
	GeneratedAt string            `json:"generated_at"` // RFC3339
}

// AlertsResponse is the payload for GET /api/v1/alerts.
type AlertsResponse struct {
	Alerts []*alerts.Alert `json:"alerts"`
	Total  int             `json:"total"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
