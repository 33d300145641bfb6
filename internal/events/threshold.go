package events

import (
	"fmt"
	"strings"
)

// Threshold is a parsed "value <= threshold" gate.
//
// An empty raw value yields an unset threshold. A raw value that does not
// parse yields an invalid threshold that never pings; Err holds the reason.
type Threshold struct {
	Raw   string
	Value int64
	Set   bool
	Valid bool
	Err   error
}

// ParseThreshold accepts digits with optional ",", ".", "_" or space grouping.
// Any other rune makes the threshold invalid.
func ParseThreshold(raw string) Threshold {
	s := strings.TrimSpace(raw)
	t := Threshold{Raw: raw}
	if s == "" {
		return t
	}
	t.Set = true
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == ',' || r == '.' || r == '_' || r == ' ':
		default:
			t.Err = fmt.Errorf("threshold %q: unexpected %q: %w", raw, r, ErrBadAmount)
			return t
		}
	}
	v, err := ParseAmount(s)
	if err != nil {
		t.Err = err
		return t
	}
	t.Value = v
	t.Valid = true
	return t
}

// ShouldPing reports whether v is at or below a valid threshold.
func (t Threshold) ShouldPing(v int64) bool {
	return t.Valid && v <= t.Value
}

// Allows is the dispatch gate: an unset or invalid threshold never blocks a
// message, only a valid one with v above it does.
func (t Threshold) Allows(v int64) bool {
	if !t.Set || !t.Valid {
		return true
	}
	return v <= t.Value
}

func (t Threshold) String() string {
	switch {
	case !t.Set:
		return "unset"
	case !t.Valid:
		return "invalid(" + strings.TrimSpace(t.Raw) + ")"
	default:
		return fmt.Sprintf("<=%d", t.Value)
	}
}
