// Package clock abstracts the current time so expiry comparisons and
// timestamps are deterministic under test.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns a Clock backed by the wall clock, in UTC.
func System() Clock { return systemClock{} }

// Fixed is a Clock frozen at a single instant. Advance moves it forward.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time { return f.T }

// Advance moves the frozen clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }

// NewFixed returns a Clock frozen at t.
func NewFixed(t time.Time) *Fixed { return &Fixed{T: t} }
