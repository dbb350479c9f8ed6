// Package system provides the wall clock.
package system

import "time"

// Clock implements records.Clock. Times are UTC and truncated to the
// microsecond so they survive a Postgres timestamptz round trip unchanged.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
