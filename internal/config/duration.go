package config

import (
	"fmt"
	"strings"
	"time"
)

// parseDuration parses an optional non-negative duration. Empty means 0.
func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// durationOr returns def for empty, zero or malformed input. Validate has
// already rejected malformed values by the time accessors call this.
func durationOr(raw string, def time.Duration) time.Duration {
	if d, err := parseDuration("", raw); err == nil && d > 0 {
		return d
	}
	return def
}
