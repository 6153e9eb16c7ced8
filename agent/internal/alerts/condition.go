package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/obsidianstack/octo-agent/agent/internal/health"
	"github.com/obsidianstack/octo-agent/pkg/types"
)

// Snapshot is what rules are evaluated against.
type Snapshot struct {
	Status types.Status
	Health health.Output
	// HoursSinceSuccess is -1 when no fetch has ever succeeded.
	HoursSinceSuccess float64
}

// Supported expressions (field operator value):
//
//	consecutive_failures >= 3
//	uptime_pct < 80
//	health_score < 60
//	hours_since_success > 24
//	kilometers > 150000
//	state == errored
//	health == critical
//	last_error == authentication
var numericFields = map[string]func(Snapshot) (float64, bool){
	"consecutive_failures": func(s Snapshot) (float64, bool) {
		return float64(s.Status.ConsecutiveFailures), true
	},
	"uptime_pct": func(s Snapshot) (float64, bool) {
		return s.Status.UptimePct, s.Status.RecentAttempts > 0
	},
	"health_score": func(s Snapshot) (float64, bool) {
		return s.Health.Score, s.Health.State != health.StateUnknown
	},
	"hours_since_success": func(s Snapshot) (float64, bool) {
		return s.HoursSinceSuccess, s.HoursSinceSuccess >= 0
	},
	"kilometers": func(s Snapshot) (float64, bool) {
		if s.Status.Reading == nil {
			return 0, false
		}
		return s.Status.Reading.Value, true
	},
}

var stringFields = map[string]func(Snapshot) string{
	"state":      func(s Snapshot) string { return string(s.Status.State) },
	"health":     func(s Snapshot) string { return s.Health.State },
	"last_error": lastErrorKind,
}

func lastErrorKind(s Snapshot) string {
	if s.Status.LastError == nil {
		return ""
	}
	return string(s.Status.LastError.Kind)
}

var operators = map[string]func(v, threshold float64) bool{
	">":  func(v, t float64) bool { return v > t },
	">=": func(v, t float64) bool { return v >= t },
	"<":  func(v, t float64) bool { return v < t },
	"<=": func(v, t float64) bool { return v <= t },
	"==": func(v, t float64) bool { return v == t },
}

// ValidateCondition reports whether cond is an expression evalCondition
// understands.
func ValidateCondition(cond string) error {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return fmt.Errorf("condition %q: want \"field op value\"", cond)
	}
	field, op, rhs := parts[0], parts[1], parts[2]
	if _, ok := stringFields[field]; ok {
		if op != "==" && op != "!=" {
			return fmt.Errorf("condition %q: %s supports == and != only", cond, field)
		}
		return nil
	}
	if _, ok := numericFields[field]; !ok {
		return fmt.Errorf("condition %q: unknown field %q", cond, field)
	}
	if _, ok := operators[op]; !ok {
		return fmt.Errorf("condition %q: unknown operator %q", cond, op)
	}
	if _, err := strconv.ParseFloat(rhs, 64); err != nil {
		return fmt.Errorf("condition %q: %q is not a number", cond, rhs)
	}
	return nil
}

// evalCondition evaluates cond against snap and returns whether it fires
// along with the triggering value. Numeric fields with no data never fire.
// Unparseable conditions never fire; config validation rejects them earlier.
func evalCondition(cond string, snap Snapshot) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if get, ok := stringFields[field]; ok {
		switch op {
		case "==":
			return get(snap) == rhs, 0
		case "!=":
			return get(snap) != rhs, 0
		}
		return false, 0
	}

	get, ok := numericFields[field]
	if !ok {
		return false, 0
	}
	cmp, ok := operators[op]
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	v, present := get(snap)
	if !present {
		return false, 0
	}
	return cmp(v, threshold), v
}
