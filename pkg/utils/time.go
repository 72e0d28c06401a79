package utils

import "time"

// ParseTimestamp parses an RFC3339 timestamp, with or without fractional
// seconds
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
