package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"

	"github.com/obsidianstack/octo-agent/agent/internal/alerts"
	"github.com/obsidianstack/octo-agent/agent/internal/auth"
	"github.com/obsidianstack/octo-agent/agent/internal/health"
	"github.com/obsidianstack/octo-agent/pkg/types"
)

// Source is the read side of the polling coordinator plus manual refresh.
// *coordinator.Coordinator and *coordinator.Holder satisfy it.
type Source interface {
	// Username is the configured portal login; it keys unique_id.
	Username() string
	CurrentReading() (types.Reading, bool)
	Status() types.Status
	RefreshAsync(ctx context.Context) bool
}

// CertChecker inspects the portal certificate, typically by calling
// security.Check with the live base URL.
type CertChecker func(ctx context.Context) *types.CertStatus

// AlertLister reports firing and recently resolved alerts. *alerts.Engine
// satisfies it.
type AlertLister interface {
	Active() []*alerts.Alert
}

// Options configures the handler.
type Options struct {
	// Auth mode, header and key protect POST /api/v1/refresh.
	AuthMode   string
	AuthHeader string
	AuthKey    string

	// Stream, when set, is mounted at /ws/stream.
	Stream http.Handler

	// CheckCert, when nil, leaves the certificate out of diagnostics.
	CheckCert CertChecker

	// Alerts, when set, backs GET /api/v1/alerts.
	Alerts AlertLister

	// Clock defaults to wall time.
	Clock clockwork.Clock
}

// Handler serves the agent's HTTP surface.
type Handler struct {
	src    Source
	opts   Options
	router chi.Router
}

// New creates a Handler reading from src and registers all routes.
func New(src Source, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	h := &Handler{src: src, opts: opts}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLog)
	r.Use(chimw.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sensor", h.sensor)
		r.Get("/status", h.status)
		r.Get("/diagnostics", h.diagnostics)
		r.Get("/alerts", h.alerts)
		r.With(auth.APIKey(opts.AuthMode, opts.AuthHeader, opts.AuthKey)).
			Post("/refresh", h.refresh)
	})
	r.Get("/metrics", h.metrics)
	if opts.Stream != nil {
		r.Handle("/ws/stream", opts.Stream)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// sensor returns GET /api/v1/sensor: the total_kilometers measurement.
func (h *Handler) sensor(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, BuildSensor(h.src))
}

// status returns GET /api/v1/status: the coordinator's bookkeeping.
func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.src.Status())
}

// refresh handles POST /api/v1/refresh and starts a refresh in the background.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	started := h.src.RefreshAsync(context.WithoutCancel(r.Context()))
	slog.Info("api: manual refresh requested", "started", started)
	jsonResp(w, http.StatusAccepted, RefreshResponse{Started: started})
}

// diagnostics returns GET /api/v1/diagnostics: health score, hints and the
// portal certificate status.
func (h *Handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	now := h.opts.Clock.Now()
	st := h.src.Status()
	var cert *types.CertStatus
	if h.opts.CheckCert != nil {
		cert = h.opts.CheckCert(r.Context())
	}
	out := health.Compute(health.FromStatus(st, now))

	jsonResp(w, http.StatusOK, DiagnosticsResponse{
		Health:      out,
		Hints:       health.Diagnose(st, out, cert),
		Cert:        cert,
		GeneratedAt: now.UTC().Format(time.RFC3339),
	})
}

// alerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) alerts(w http.ResponseWriter, _ *http.Request) {
	list := []*alerts.Alert{}
	if h.opts.Alerts != nil {
		list = h.opts.Alerts.Active()
	}
	jsonResp(w, http.StatusOK, AlertsResponse{Alerts: list, Total: len(list)})
}

// --- helpers ----------------------------------------------------------------

// BuildSensor assembles the published measurement from src.
func BuildSensor(src Source) types.Measurement {
	m := types.Measurement{
		Name:         types.MeasurementName,
		Unit:         types.MeasurementUnit,
		Icon:         types.MeasurementIcon,
		FriendlyName: types.FriendlyName,
		UniqueID:     types.UniqueID(src.Username()),
		Device:       types.DeviceFor(src.Username()),
	}
	st := src.Status()
	if st.Reading == nil {
		return m
	}
	v := st.Reading.Value
	m.State = &v
	m.Available = true
	m.Stale = st.Stale
	m.Attributes.LastUpdate = st.Reading.LastUpdate()
	return m
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// requestLog logs one line per request at debug level.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}
