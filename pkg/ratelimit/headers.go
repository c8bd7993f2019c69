package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names Mastodon sets on rate-limited API endpoints.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// ErrMissingHeaders is returned when a response carries no remaining-quota header.
var ErrMissingHeaders = errors.New("rate limit headers missing")

// State is the server-declared quota on one response.
type State struct {
	Limit     int
	Remaining int
	// Reset is zero when the header was absent.
	Reset time.Time
}

// ParseHeaders reads the rate-limit headers from h. The remaining header is
// required; limit and reset are optional but must parse when present.
func ParseHeaders(h http.Header) (State, error) {
	var s State

	remaining := h.Get(HeaderRemaining)
	if remaining == "" {
		return s, ErrMissingHeaders
	}
	n, err := strconv.Atoi(remaining)
	if err != nil {
		return s, fmt.Errorf("invalid %s %q: %w", HeaderRemaining, remaining, err)
	}
	s.Remaining = n

	if limit := h.Get(HeaderLimit); limit != "" {
		if s.Limit, err = strconv.Atoi(limit); err != nil {
			return s, fmt.Errorf("invalid %s %q: %w", HeaderLimit, limit, err)
		}
	}

	if reset := h.Get(HeaderReset); reset != "" {
		if s.Reset, err = ParseReset(reset); err != nil {
			return s, err
		}
	}
	return s, nil
}

// ParseReset parses a reset instant. Mastodon sends ISO 8601 timestamps with
// fractional seconds; HTTP dates are accepted as well.
func ParseReset(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := http.ParseTime(value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid %s %q", HeaderReset, value)
}

// ResetDelay is how long to suspend before retrying: the time left until
// reset plus one second. A reset in the past yields the one second alone.
func ResetDelay(reset, now time.Time) time.Duration {
	wait := reset.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait + time.Second
}
