// Package system provides a real clock implementation.
package system

import "time"

// Clock implements bot.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time. Progression cutoffs (the 23:00 rule,
// the 06:00 sweep) are defined in the service's local timezone.
func (Clock) Now() time.Time {
	return time.Now()
}
