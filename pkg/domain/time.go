package domain

import "time"

// Timestamp normalizes t to UTC microseconds, the finest precision every
// persistence backend round-trips exactly.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
