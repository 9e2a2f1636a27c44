// Package timestamp provides event-time conversion utilities.
//
// Event times travel through citystreams as time.Time in UTC. Where a compact
// form is needed (Avro timestamp-millis columns, checkpoint watermarks, metric
// gauges) they are stored as int64 milliseconds since the Unix epoch.
//
// Zero Value Semantics:
//   - A millisecond value of 0 means "not set"
//   - A zero time.Time converts to 0 and back
//
// Usage Examples:
//
//	// Parse an ISO-8601 event timestamp (zone-less strings are UTC)
//	t, err := timestamp.ParseEventTime("2024-03-01T10:15:00")
//
//	// Store and restore
//	ms := timestamp.ToUnixMs(t)
//	t = timestamp.FromUnixMs(ms)
package timestamp

import (
	"fmt"
	"strings"
	"time"
)

// zonelessLayout is ISO-8601 date-time without an offset. Fractional seconds
// are accepted after the seconds field when parsing.
const zonelessLayout = "2006-01-02T15:04:05"

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to a UTC time.Time.
// Returns zero time if ms is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Format renders t as RFC3339 with sub-second precision in UTC.
// Returns empty string for the zero time.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseEventTime converts an ISO-8601 timestamp string (or a time.Time) to a
// UTC time.Time. Only full date-times are accepted: RFC 3339 with an offset,
// or the same form without one, which is interpreted as UTC.
func ParseEventTime(input any) (time.Time, error) {
	switch v := input.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.ParseInLocation(zonelessLayout, s, time.UTC); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("timestamp must be a string, got %T", input)
	}
}

// Max returns the later of two times. Zero values are treated as earlier
// than any other time.
func Max(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.After(a) {
		return b
	}
	return a
}
