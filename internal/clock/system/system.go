// Package system provides the wall clock used for manifest timestamps.
package system

import "time"

// Clock implements pipeline.Clock. Timestamps are UTC so the manifest
// serializes them with a Z suffix.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
