package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ParseTimestamp normalizes the timestamp shapes producers are allowed to send:
// an RFC 3339 string, epoch milliseconds (integer or float), or a time.Time.
// The result is always UTC.
func ParseTimestamp(value any) (time.Time, error) {
	switch t := value.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("zero time value")
		}
		return t.UTC(), nil
	case string:
		return ParseRFC3339(t)
	case float64:
		return fromEpochMillis(t)
	case float32:
		return fromEpochMillis(float64(t))
	case int:
		return fromEpochMillis(float64(t))
	case int64:
		return fromEpochMillis(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("parse epoch millis %q: %w", t.String(), err)
		}
		return fromEpochMillis(f)
	case nil:
		return time.Time{}, fmt.Errorf("missing time value")
	default:
		return time.Time{}, fmt.Errorf("unsupported time type %T", value)
	}
}

// ParseRFC3339 returns a UTC time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t.UTC(), nil
}

func fromEpochMillis(ms float64) (time.Time, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0 {
		return time.Time{}, fmt.Errorf("invalid epoch millis %v", ms)
	}
	sec := int64(ms) / 1000
	nsec := (int64(ms) % 1000) * int64(time.Millisecond)
	return time.Unix(sec, nsec).UTC(), nil
}
