// Package timestamp converts between time.Time and Unix milliseconds, the
// representation the relay uses for last-forward times on the wire.
//
// Zero means "never": a zero time.Time maps to 0 and 0 maps back to a zero
// time.Time, so an unset timestamp survives a round trip.
package timestamp

import "time"

// RFC3339Milli is RFC 3339 with millisecond precision.
const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// ToUnixMs converts t to Unix milliseconds. A zero t returns 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to a UTC time. 0 returns the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Format renders ms as RFC3339Milli in UTC, or "" for 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return FromUnixMs(ms).Format(RFC3339Milli)
}

// Since returns the time elapsed since ms, or 0 when ms is unset.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(FromUnixMs(ms))
}
