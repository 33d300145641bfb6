package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNegativeDuration is wrapped by Duration for values below zero.
var ErrNegativeDuration = errors.New("duration must not be negative")

// FieldError ties a failure to the dotted path of the config key
// (e.g. "events.magic_pond.lead_time").
type FieldError struct {
	Path string
	Err  error
}

func (e *FieldError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }

// Duration parses the Go duration string raw found at path. Blank and zero
// values yield def, so a zero def means "unset".
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		// "30" parses as a number but not as a duration; name the fix.
		if _, nerr := strconv.ParseFloat(s, 64); nerr == nil {
			return 0, &FieldError{Path: path, Err: fmt.Errorf("duration %q needs a unit (e.g. %q)", raw, s+"s")}
		}
		return 0, &FieldError{Path: path, Err: fmt.Errorf("invalid duration %q", raw)}
	}
	if d < 0 {
		return 0, &FieldError{Path: path, Err: ErrNegativeDuration}
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
