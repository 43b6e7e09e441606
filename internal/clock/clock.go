// Package clock abstracts time so trackers, schedulers, and the state
// machine can be driven deterministically in tests.
package clock

import "time"

// Clock provides time information for usage tracking and scheduling.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock provides controllable time for testing.
type TestClock struct {
	CurrentTime time.Time
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	return t.CurrentTime
}

// Advance moves the test time forward.
func (t *TestClock) Advance(d time.Duration) {
	t.CurrentTime = t.CurrentTime.Add(d)
}

// DateKey formats a time as the calendar-day key used for usage records.
// Day boundaries follow the local calendar date, not the reset hour.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
