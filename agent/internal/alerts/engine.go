package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/obsidianstack/octo-agent/agent/internal/config"
	"github.com/obsidianstack/octo-agent/agent/internal/health"
	"github.com/obsidianstack/octo-agent/pkg/types"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 24
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Account    string     `json:"account"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Source supplies the status rules are evaluated against.
type Source interface {
	Username() string
	Status() types.Status
}

// Validate checks every rule condition and webhook type in cfg.
func Validate(cfg config.AlertsConfig) error {
	for _, r := range cfg.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts: rule without a name")
		}
		if err := ValidateCondition(r.Condition); err != nil {
			return fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
	}
	for _, wh := range cfg.Webhooks {
		switch wh.Type {
		case "slack", "teams", "pagerduty", "http":
		default:
			return fmt.Errorf("alerts: unknown webhook type %q", wh.Type)
		}
	}
	return nil
}

// Engine evaluates alert rules against status snapshots and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	clock  clockwork.Clock
	client *http.Client

	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: rule name
	lastFire map[string]time.Time // last fire time per rule (for cooldown)
	history  []*Alert             // recently resolved alerts
}

// New creates an Engine from cfg. An Engine with no rules is valid; Evaluate
// becomes a no-op. A nil clock means wall time.
func New(cfg config.AlertsConfig, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		clock:    clock,
		client:   &http.Client{Timeout: 10 * time.Second},
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
}

// SetConfig replaces rules and webhooks. Alerts for rules that no longer
// exist are dropped without a resolve notification.
func (e *Engine) SetConfig(cfg config.AlertsConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = cfg.Rules
	e.webhooks = cfg.Webhooks

	keep := make(map[string]bool, len(cfg.Rules))
	for _, r := range cfg.Rules {
		keep[r.Name] = true
	}
	for name := range e.active {
		if !keep[name] {
			delete(e.active, name)
			delete(e.lastFire, name)
		}
	}
}

// Run evaluates the rules against src every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, src Source, every time.Duration) {
	ticker := e.clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.Evaluate(src.Username(), Snap(src.Status(), e.clock.Now()))
		}
	}
}

// Snap builds the evaluation snapshot for st as of now.
func Snap(st types.Status, now time.Time) Snapshot {
	s := Snapshot{
		Status:            st,
		Health:            health.Compute(health.FromStatus(st, now)),
		HoursSinceSuccess: -1,
	}
	if !st.LastSuccess.IsZero() {
		s.HoursSinceSuccess = now.Sub(st.LastSuccess).Hours()
	}
	return s
}

// Evaluate tests all configured rules against snap.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(account string, snap Snapshot) {
	now := e.clock.Now()

	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()

	for _, rule := range rules {
		fires, value := evalCondition(rule.Condition, snap)

		e.mu.Lock()
		a, isActive := e.active[rule.Name]

		switch {
		case fires && !isActive:
			cooldown := rule.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if last, ok := e.lastFire[rule.Name]; ok && now.Sub(last) < cooldown {
				e.mu.Unlock()
				continue
			}
			sev := rule.Severity
			if sev == "" {
				sev = "warning"
			}
			a = &Alert{
				ID:       fmt.Sprintf("%s:%d", rule.Name, now.UnixNano()),
				RuleName: rule.Name,
				Account:  account,
				Severity: sev,
				Value:    value,
				Message:  fmt.Sprintf("[%s] %s fired for %s: %s (value %.2f)", sev, rule.Name, account, rule.Condition, value),
				FiredAt:  now,
				State:    "firing",
			}
			e.active[rule.Name] = a
			e.lastFire[rule.Name] = now
			alertCopy := *a
			e.mu.Unlock()

			slog.Warn("alerts: fired",
				"rule", rule.Name,
				"account", account,
				"value", value,
				"severity", sev,
			)
			go e.deliver(&alertCopy)

		case !fires && isActive:
			resolved := now
			a.State = "resolved"
			a.ResolvedAt = &resolved
			a.Message = fmt.Sprintf("[resolved] %s cleared for %s", rule.Name, account)
			delete(e.active, rule.Name)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			alertCopy := *a
			e.mu.Unlock()

			slog.Info("alerts: resolved", "rule", rule.Name, "account", account)
			go e.deliver(&alertCopy)

		default:
			e.mu.Unlock()
		}
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past day, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.clock.Now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}
