package health

import (
	"fmt"
	"sort"
	"time"

	"github.com/obsidianstack/octo-agent/pkg/types"
)

// Hint is one human-readable insight about the connector's health.
type Hint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// Diagnose derives hints from a status snapshot, its score and the portal
// certificate (nil when not inspected). Critical hints come first.
func Diagnose(st types.Status, out Output, cert *types.CertStatus) []Hint {
	var hints []Hint

	if e := st.LastError; e != nil {
		hints = append(hints, errorHint(e, st.Reading != nil))
	}

	if st.Reading == nil && st.LastError == nil {
		hints = append(hints, Hint{
			Key:   "warming_up",
			Level: "info",
			Title: "Warming up",
			Detail: "The agent has not completed its first fetch yet. " +
				"The measurement becomes available after the first successful refresh.",
		})
	}

	if st.RecentAttempts > 0 && st.UptimePct < 100 {
		v := st.UptimePct
		level := "info"
		switch {
		case v < 70:
			level = "critical"
		case v < 90:
			level = "warning"
		}
		hints = append(hints, Hint{
			Key:   "uptime",
			Level: level,
			Title: fmt.Sprintf("%.0f%% of refreshes succeed", v),
			Detail: fmt.Sprintf(
				"%.0f%% of the last %d refreshes returned a reading. "+
					"Occasional failures are usually portal maintenance; a sustained drop "+
					"points at credentials or a change in the statistics page.",
				v, st.RecentAttempts,
			),
			Value: &v,
		})
	}

	if cert != nil {
		if h, ok := certHint(cert); ok {
			hints = append(hints, h)
		}
	}

	if len(hints) == 0 {
		score := out.Score
		hints = append(hints, Hint{
			Key:   "healthy",
			Level: "ok",
			Title: "All clear",
			Detail: fmt.Sprintf(
				"The connector is polling every %d minutes and the last refresh succeeded. "+
					"Health score %.0f/100.",
				st.IntervalMinutes, score,
			),
			Value: &score,
		})
	}

	sortByLevel(hints)
	return hints
}

func errorHint(e *types.FetchError, hasReading bool) Hint {
	keep := "No reading is available yet."
	if hasReading {
		keep = "The previous reading is still served and marked stale."
	}
	switch e.Kind {
	case types.ErrorAuthentication:
		return Hint{
			Key:   "auth_failed",
			Level: "critical",
			Title: "Login rejected",
			Detail: fmt.Sprintf(
				"The portal rejected the configured credentials (%s). "+
					"This will not recover on its own: update the username or password. %s",
				e.Message, keep,
			),
		}
	case types.ErrorDataFormat:
		return Hint{
			Key:   "page_changed",
			Level: "warning",
			Title: "Statistics page unreadable",
			Detail: fmt.Sprintf(
				"The statistics page loaded but the total kilometers could not be found (%s). "+
					"The portal layout may have changed. %s",
				e.Message, keep,
			),
		}
	default:
		return Hint{
			Key:   "portal_unreachable",
			Level: "warning",
			Title: "Portal unreachable",
			Detail: fmt.Sprintf(
				"The last refresh at %s failed: %s. "+
					"The next scheduled refresh will retry. %s",
				e.At.UTC().Format(time.RFC3339), e.Message, keep,
			),
		}
	}
}

func certHint(cert *types.CertStatus) (Hint, bool) {
	days := float64(cert.DaysLeft)
	switch cert.Status {
	case "expired":
		return Hint{
			Key:    "cert_expired",
			Level:  "critical",
			Title:  "Portal certificate expired",
			Detail: fmt.Sprintf("The certificate for %s expired on %s.", cert.Endpoint, cert.NotAfter),
			Value:  &days,
		}, true
	case "expiring":
		return Hint{
			Key:   "cert_expiring",
			Level: "info",
			Title: fmt.Sprintf("Certificate expires in %d days", cert.DaysLeft),
			Detail: fmt.Sprintf(
				"The certificate for %s (issuer %s) expires on %s. This is the portal's to renew.",
				cert.Endpoint, cert.Issuer, cert.NotAfter,
			),
			Value: &days,
		}, true
	case "unreachable":
		return Hint{
			Key:    "cert_unreachable",
			Level:  "warning",
			Title:  "TLS handshake failed",
			Detail: fmt.Sprintf("Could not complete a TLS handshake with %s.", cert.Endpoint),
		}, true
	}
	return Hint{}, false
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// sortByLevel orders hints critical first, keeping insertion order within a
// level.
func sortByLevel(hints []Hint) {
	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
}
