// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock implements tracker.Clock. Timestamps are UTC and truncated to
// microseconds so values survive a round trip through Postgres and SQLite.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Manual is a settable clock for tests and replay tooling.
type Manual struct {
	now time.Time
}

// NewManual starts a Manual clock at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Now returns the configured instant.
func (m *Manual) Now() time.Time {
	return m.now
}

// Advance moves the clock forward by d and returns the new instant.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.now = m.now.Add(d)
	return m.now
}
