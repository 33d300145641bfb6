package discord

import (
	"errors"
	"fmt"
)

// DeliveryError is a non-2xx response from Discord.
type DeliveryError struct {
	Target     string
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("discord %s: status %d", e.Target, e.StatusCode)
	}
	return fmt.Sprintf("discord %s: status %d: %s", e.Target, e.StatusCode, e.Body)
}

// RateLimited reports whether Discord answered 429.
func (e *DeliveryError) RateLimited() bool { return e.StatusCode == 429 }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.StatusCode
	}
	return 0
}
