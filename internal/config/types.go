package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration read from YAML or EMBEDKIT_* variables.
// It accepts Go duration strings ("15s", "500ms") and bare integers, which
// are seconds, so EMBEDKIT_TELEMETRY_SHUTDOWN_TIMEOUT=5 means five seconds.
// Negative values are rejected.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))

	var parsed time.Duration
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		parsed = time.Duration(secs) * time.Second
	} else if parsed, err = time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q: want e.g. 15s or a number of seconds", s)
	}

	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
