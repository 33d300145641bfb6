package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrZoneUnavailable = errors.New("time zone unavailable")

// Fallback describes the fixed zone used when a named zone cannot be loaded.
type Fallback struct {
	Name   string
	Offset time.Duration
}

// LoadZone resolves name. When the zone is missing on the host it returns a
// fixed zone built from fb together with an error wrapping
// ErrZoneUnavailable; the returned location is usable in both cases.
func LoadZone(name string, fb Fallback) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	label := strings.TrimSpace(fb.Name)
	if label == "" {
		label = "UTC" + FormatOffset(fb.Offset)
	}
	return time.FixedZone(label, int(fb.Offset/time.Second)), fmt.Errorf("%s: %w (using %s): %v", name, ErrZoneUnavailable, label, err)
}

// ParseOffset parses "+HH:MM", "-HH:MM", "+HH" or "Z".
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "Z" || strings.EqualFold(s, "utc") {
		return 0, nil
	}
	sign := time.Duration(1)
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("offset %q: missing sign", s)
	}
	hh, mm, _ := strings.Cut(s[1:], ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 14 {
		return 0, fmt.Errorf("offset %q: bad hours", s)
	}
	m := 0
	if mm != "" {
		m, err = strconv.Atoi(mm)
		if err != nil || m < 0 || m > 59 {
			return 0, fmt.Errorf("offset %q: bad minutes", s)
		}
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}

func FormatOffset(d time.Duration) string {
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%s%02d:%02d", sign, h, m)
}
