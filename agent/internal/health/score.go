package health

import (
	"time"

	"github.com/obsidianstack/octo-agent/pkg/types"
)

// Weight constants for the connector score formula.
// They must sum to 1.0.
const (
	weightUptime    = 0.50
	weightFailures  = 0.30
	weightFreshness = 0.20
)

// State constants returned by the score calculator.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Thresholds that map a score to a health state.
const (
	ThresholdHealthy  = 85.0
	ThresholdDegraded = 60.0
)

const (
	// maxFailures is the consecutive failure count at which the failure
	// factor reaches zero.
	maxFailures = 5

	// staleIntervals is how many polling intervals without a success drive
	// the freshness factor to zero.
	staleIntervals = 10
)

// Input holds the values fed into the score formula.
type Input struct {
	// UptimePct is the percentage of recent refreshes that succeeded.
	UptimePct float64

	// Attempts is the number of outcomes UptimePct was computed from.
	Attempts int

	ConsecutiveFailures int

	// HasReading is false until the first successful fetch.
	HasReading bool

	// SinceSuccess is the time elapsed since the last successful fetch.
	SinceSuccess time.Duration

	// Interval is the configured polling interval.
	Interval time.Duration

	// AuthFailed is true when the last refresh was rejected by the portal.
	// Credentials do not heal on their own, so this forces critical.
	AuthFailed bool
}

// Output is the result of the score calculation.
type Output struct {
	// Score is the composite health score in the range 0 to 100.
	Score float64 `json:"score"`

	// State is one of "healthy", "degraded", "critical", "unknown".
	State string `json:"state"`

	// The three factor values (each 0 to 1) used to compute Score.
	UptimeFactor    float64 `json:"uptime_factor"`
	FailureFactor   float64 `json:"failure_factor"`
	FreshnessFactor float64 `json:"freshness_factor"`
}

// FromStatus builds an Input from a coordinator status snapshot taken at now.
func FromStatus(st types.Status, now time.Time) Input {
	in := Input{
		UptimePct:           st.UptimePct,
		Attempts:            st.RecentAttempts,
		ConsecutiveFailures: st.ConsecutiveFailures,
		HasReading:          st.Reading != nil,
		Interval:            time.Duration(st.IntervalMinutes) * time.Minute,
		AuthFailed:          st.LastError != nil && st.LastError.Kind == types.ErrorAuthentication,
	}
	if in.HasReading && !st.LastSuccess.IsZero() {
		in.SinceSuccess = now.Sub(st.LastSuccess)
	}
	return in
}

// Compute calculates the connector score from the given inputs.
//
//	score = (
//	    uptime_pct/100                        * 0.50 +
//	    (1 - failures/5)                      * 0.30 +
//	    freshness                             * 0.20
//	) * 100
//
// freshness is 1 while the last success is within one interval and falls
// linearly to 0 at ten intervals. With no attempts and no reading the state
// is "unknown".
func Compute(in Input) Output {
	if in.Attempts == 0 && !in.HasReading {
		return Output{State: StateUnknown}
	}

	uptimeFactor := clamp01(in.UptimePct / 100)
	failureFactor := 1 - clamp01(float64(in.ConsecutiveFailures)/maxFailures)
	freshnessFactor := freshness(in)

	score := (uptimeFactor*weightUptime +
		failureFactor*weightFailures +
		freshnessFactor*weightFreshness) * 100

	state := stateFromScore(score)
	if in.AuthFailed {
		state = StateCritical
	}

	return Output{
		Score:           score,
		State:           state,
		UptimeFactor:    uptimeFactor,
		FailureFactor:   failureFactor,
		FreshnessFactor: freshnessFactor,
	}
}

func freshness(in Input) float64 {
	if !in.HasReading {
		return 0
	}
	if in.Interval <= 0 {
		return 1
	}
	ratio := float64(in.SinceSuccess) / float64(in.Interval)
	if ratio <= 1 {
		return 1
	}
	return 1 - clamp01((ratio-1)/(staleIntervals-1))
}

// stateFromScore maps a numeric score to a named health state.
func stateFromScore(score float64) string {
	switch {
	case score >= ThresholdHealthy:
		return StateHealthy
	case score >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
