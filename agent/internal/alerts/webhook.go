package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// deliver posts a to every configured webhook with a resolvable URL.
// Failures are logged; the caller never sees them.
func (e *Engine) deliver(a *Alert) {
	e.mu.Lock()
	webhooks := e.webhooks
	e.mu.Unlock()

	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		body, err := payload(wh.Type, a)
		if err == nil {
			err = e.post(context.Background(), url, body)
		}
		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"err", err,
			)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type,
			"rule", a.RuleName,
			"state", a.State,
		)
	}
}

// payload renders a in the format the webhook type expects.
func payload(kind string, a *Alert) ([]byte, error) {
	switch kind {
	case "slack":
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("*%s* %s", label(a), a.Message),
		})
	case "teams":
		return json.Marshal(map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": color(a),
			"summary":    a.RuleName,
			"title":      "OCTO Agent Alert: " + a.RuleName,
			"text":       a.Message,
		})
	case "pagerduty", "http":
		return json.Marshal(map[string]any{"alert": a})
	}
	return nil, fmt.Errorf("unknown webhook type %q", kind)
}

func (e *Engine) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func label(a *Alert) string {
	if a.State == "resolved" {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func color(a *Alert) string {
	if a.State == "resolved" {
		return "3FB950"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
