package events

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBadAmount = errors.New("bad amount")

// ParseAmount drops every non-digit rune from s and parses the remainder.
//
// Chat numbers use either "," or "." as thousands separators depending on the
// event, so both are treated as grouping. "1,234,567" and "1.234.567" both
// yield 1234567.
func ParseAmount(s string) (int64, error) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return 0, fmt.Errorf("%q: no digits: %w", s, ErrBadAmount)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrBadAmount)
	}
	return n, nil
}
