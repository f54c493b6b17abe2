package logging

import "time"

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock. Components that need determinism inject
// a ClockFunc instead.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
