// Package clock is the time source shared by scoring, retention, delivery
// timing and the tracker's periodic tasks. Tests drive it with a fake
// clock whose tickers fire on Advance.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock tells time and creates tickers
type Clock = clockwork.Clock

// Fake is a manually advanced clock
type Fake = clockwork.FakeClock

// NewFake creates a fake clock set to t
func NewFake(t time.Time) *Fake {
	return clockwork.NewFakeClockAt(t)
}

// OrReal returns c, or the real clock when c is nil
func OrReal(c Clock) Clock {
	if c == nil {
		return clockwork.NewRealClock()
	}
	return c
}
