package health

import (
	"strings"
	"testing"
	"time"

	"github.com/obsidianstack/octo-agent/pkg/types"
)

func hasKey(hints []Hint, key string) bool {
	for _, h := range hints {
		if h.Key == key {
			return true
		}
	}
	return false
}

func TestDiagnose_AllClear(t *testing.T) {
	st := types.Status{
		Reading:         &types.Reading{Value: 1},
		IntervalMinutes: 10,
		UptimePct:       100,
		RecentAttempts:  3,
	}
	hints := Diagnose(st, Output{Score: 100, State: StateHealthy}, &types.CertStatus{Status: "valid"})
	if len(hints) != 1 || hints[0].Key != "healthy" {
		t.Fatalf("hints: got %+v, want single healthy", hints)
	}
	if !strings.Contains(hints[0].Detail, "every 10 minutes") {
		t.Errorf("detail: %q", hints[0].Detail)
	}
}

func TestDiagnose_WarmingUp(t *testing.T) {
	hints := Diagnose(types.Status{UptimePct: 100}, Output{State: StateUnknown}, nil)
	if !hasKey(hints, "warming_up") {
		t.Errorf("expected warming_up, got %+v", hints)
	}
}

func TestDiagnose_ErrorKinds(t *testing.T) {
	tests := []struct {
		kind    types.ErrorKind
		wantKey string
		level   string
	}{
		{types.ErrorAuthentication, "auth_failed", "critical"},
		{types.ErrorTransport, "portal_unreachable", "warning"},
		{types.ErrorDataFormat, "page_changed", "warning"},
	}
	for _, tc := range tests {
		st := types.Status{
			LastError: &types.FetchError{Kind: tc.kind, Message: "boom", At: time.Now()},
		}
		hints := Diagnose(st, Output{}, nil)
		if hints[0].Key != tc.wantKey || hints[0].Level != tc.level {
			t.Errorf("%s: first hint %+v, want %s/%s", tc.kind, hints[0], tc.wantKey, tc.level)
		}
		if !strings.Contains(hints[0].Detail, "No reading is available yet") {
			t.Errorf("%s: detail should mention missing reading: %q", tc.kind, hints[0].Detail)
		}
	}
}

func TestDiagnose_CriticalFirst(t *testing.T) {
	st := types.Status{
		Reading:        &types.Reading{Value: 1},
		LastError:      &types.FetchError{Kind: types.ErrorTransport, Message: "timeout"},
		UptimePct:      95,
		RecentAttempts: 20,
	}
	cert := &types.CertStatus{Status: "expired", Endpoint: "https://portal", NotAfter: "2020-01-01T00:00:00Z"}

	hints := Diagnose(st, Output{}, cert)
	if hints[0].Key != "cert_expired" {
		t.Errorf("first hint: got %s, want cert_expired", hints[0].Key)
	}
	if !hasKey(hints, "portal_unreachable") || !hasKey(hints, "uptime") {
		t.Errorf("missing hints: %+v", hints)
	}
	if !strings.Contains(hints[1].Detail, "marked stale") {
		t.Errorf("stale reading should be mentioned: %q", hints[1].Detail)
	}
}
