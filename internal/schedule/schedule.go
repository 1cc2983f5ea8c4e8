package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Trigger describes when a stored schedule fires. Exactly one of the
// kind-specific fields is meaningful.
type Trigger struct {
	Kind    string `json:"kind"`               // "cron", "interval", "once"
	Expr    string `json:"expr,omitempty"`     // cron expression (kind=cron)
	EveryMs int64  `json:"every_ms,omitempty"` // interval in ms (kind=interval)
	AtMs    int64  `json:"at_ms,omitempty"`    // unix ms timestamp (kind=once)
}

func Parse(raw string) (*Trigger, error) {
	var t Trigger
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// NextFire computes the next fire time after now, or nil when the
// trigger never fires again (past one-shot, invalid spec).
func NextFire(raw string, now time.Time) *time.Time {
	t, err := Parse(raw)
	if err != nil {
		return nil
	}

	var next time.Time

	switch t.Kind {
	case "cron":
		nextTime, err := gronx.NextTickAfter(t.Expr, now, false)
		if err != nil {
			return nil
		}
		next = nextTime
	case "interval":
		if t.EveryMs <= 0 {
			return nil
		}
		next = now.Add(time.Duration(t.EveryMs) * time.Millisecond)
	case "once":
		at := time.UnixMilli(t.AtMs)
		if !at.After(now) {
			return nil
		}
		next = at
	default:
		return nil
	}

	return &next
}

// Describe returns a human-readable description of a trigger spec.
func Describe(raw string) string {
	t, err := Parse(raw)
	if err != nil {
		return raw
	}

	switch t.Kind {
	case "cron":
		return "cron " + t.Expr
	case "interval":
		d := time.Duration(t.EveryMs) * time.Millisecond
		switch {
		case d%time.Hour == 0 && d >= time.Hour:
			h := int(d.Hours())
			if h == 1 {
				return "every hour"
			}
			return fmt.Sprintf("every %d hours", h)
		case d%time.Minute == 0 && d >= time.Minute:
			m := int(d.Minutes())
			if m == 1 {
				return "every minute"
			}
			return fmt.Sprintf("every %d minutes", m)
		default:
			return fmt.Sprintf("every %d seconds", int(d.Seconds()))
		}
	case "once":
		return "once at " + time.UnixMilli(t.AtMs).Format("Jan 2 15:04")
	default:
		return raw
	}
}

// Normalize accepts a trigger in any supported surface syntax and
// returns canonical JSON:
//   - JSON with a "kind" field is validated and passed through,
//   - a plain cron expression is wrapped as kind=cron,
//   - a Go duration string ("5m", "1h30m") is wrapped as kind=interval.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	// Try parsing as JSON first
	var t Trigger
	if err := json.Unmarshal([]byte(raw), &t); err == nil && t.Kind != "" {
		switch t.Kind {
		case "cron":
			if !gronx.New().IsValid(t.Expr) {
				return "", fmt.Errorf("invalid cron expression: %s", t.Expr)
			}
		case "interval":
			if t.EveryMs <= 0 {
				return "", fmt.Errorf("every_ms must be positive")
			}
		case "once":
			if t.AtMs <= 0 {
				return "", fmt.Errorf("at_ms must be positive")
			}
		default:
			return "", fmt.Errorf("unknown trigger kind: %s", t.Kind)
		}
		return raw, nil
	}

	// Duration shorthand becomes an interval trigger
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return "", fmt.Errorf("interval must be positive: %s", raw)
		}
		data, err := json.Marshal(Trigger{Kind: "interval", EveryMs: d.Milliseconds()})
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	// Otherwise it must be a plain cron expression
	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid trigger: not JSON, duration or cron expression: %s", raw)
	}

	data, err := json.Marshal(Trigger{Kind: "cron", Expr: raw})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
