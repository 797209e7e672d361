package chrono

import "time"

// API is the source of wall-clock time for anything that stamps records.
//
// note: fault injection point
type API interface {
	Now() time.Time
}

// StandardImpl reads the system clock, always in UTC.
type StandardImpl struct{}

func (StandardImpl) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always returns the same instant.
type Fixed time.Time

func (f Fixed) Now() time.Time {
	return time.Time(f).UTC()
}

// Timestamp renders t the way records carry it, RFC3339 in UTC with a
// trailing "Z".
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
