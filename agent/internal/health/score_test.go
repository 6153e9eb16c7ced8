package health

import (
	"math"
	"testing"
	"time"

	"github.com/obsidianstack/octo-agent/pkg/types"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestCompute_States(t *testing.T) {
	tests := []struct {
		name      string
		in        Input
		wantState string
		wantScore float64 // approximate; use -1 to skip
	}{
		{
			name:      "no attempts and no reading",
			in:        Input{},
			wantState: StateUnknown,
			wantScore: 0,
		},
		{
			name: "perfect connector",
			in: Input{UptimePct: 100, Attempts: 20, HasReading: true,
				SinceSuccess: 5 * time.Minute, Interval: 10 * time.Minute},
			wantState: StateHealthy,
			wantScore: 100,
		},
		{
			name: "one transient failure",
			// up=0.95*0.5 + fail=0.8*0.3 + fresh=1.0*0.2 = 0.475+0.24+0.2 → 91.5
			in: Input{UptimePct: 95, Attempts: 20, ConsecutiveFailures: 1, HasReading: true,
				SinceSuccess: 10 * time.Minute, Interval: 10 * time.Minute},
			wantState: StateHealthy,
			wantScore: 91.5,
		},
		{
			name: "degraded: repeated failures",
			// up=0.8*0.5 + fail=0.6*0.3 + fresh=1.0*0.2 = 0.4+0.18+0.2 → 78
			in: Input{UptimePct: 80, Attempts: 20, ConsecutiveFailures: 2, HasReading: true,
				SinceSuccess: time.Minute, Interval: 10 * time.Minute},
			wantState: StateDegraded,
			wantScore: 78,
		},
		{
			name: "critical: long outage",
			// up=0.5*0.5 + fail=0 + fresh=0 → 25
			in: Input{UptimePct: 50, Attempts: 20, ConsecutiveFailures: 7, HasReading: true,
				SinceSuccess: 100 * time.Minute, Interval: 10 * time.Minute},
			wantState: StateCritical,
			wantScore: 25,
		},
		{
			name: "failing before any reading",
			// up=0 + fail=0.8*0.3 + fresh=0 → 24
			in:        Input{UptimePct: 0, Attempts: 1, ConsecutiveFailures: 1},
			wantState: StateCritical,
			wantScore: 24,
		},
		{
			name: "rejected login forces critical",
			in: Input{UptimePct: 95, Attempts: 20, ConsecutiveFailures: 1, HasReading: true,
				SinceSuccess: time.Minute, Interval: 10 * time.Minute, AuthFailed: true},
			wantState: StateCritical,
			wantScore: 91.5,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Compute(tc.in)
			if got.State != tc.wantState {
				t.Errorf("State = %q, want %q (score %.2f)", got.State, tc.wantState, got.Score)
			}
			if tc.wantScore >= 0 && !almostEqual(got.Score, tc.wantScore, 0.01) {
				t.Errorf("Score = %.2f, want %.2f", got.Score, tc.wantScore)
			}
		})
	}
}

func TestCompute_FreshnessDecays(t *testing.T) {
	base := Input{UptimePct: 100, Attempts: 20, HasReading: true, Interval: 10 * time.Minute}

	at := func(since time.Duration) float64 {
		in := base
		in.SinceSuccess = since
		return Compute(in).FreshnessFactor
	}

	if f := at(10 * time.Minute); f != 1 {
		t.Errorf("within one interval: got %.3f, want 1", f)
	}
	if f := at(55 * time.Minute); !almostEqual(f, 0.5, 0.001) {
		t.Errorf("5.5 intervals: got %.3f, want 0.5", f)
	}
	if f := at(24 * time.Hour); f != 0 {
		t.Errorf("a day late: got %.3f, want 0", f)
	}
}

func TestFromStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := types.Status{
		Reading:             &types.Reading{Value: 10},
		LastSuccess:         now.Add(-30 * time.Minute),
		LastError:           &types.FetchError{Kind: types.ErrorAuthentication},
		ConsecutiveFailures: 2,
		IntervalMinutes:     10,
		UptimePct:           75,
		RecentAttempts:      8,
	}

	in := FromStatus(st, now)
	if !in.HasReading || !in.AuthFailed {
		t.Fatalf("flags: got %+v", in)
	}
	if in.SinceSuccess != 30*time.Minute {
		t.Errorf("SinceSuccess = %v, want 30m", in.SinceSuccess)
	}
	if in.Interval != 10*time.Minute {
		t.Errorf("Interval = %v, want 10m", in.Interval)
	}
	if in.Attempts != 8 || in.UptimePct != 75 || in.ConsecutiveFailures != 2 {
		t.Errorf("counters: got %+v", in)
	}
}
