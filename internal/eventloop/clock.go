package eventloop

import "time"

// Origin is the first instant any clock reports. Times are never 0 so that a
// zero start time can mark an empty slot downstream.
const Origin = 1.0

// Clock reports monotonic time in milliseconds.
type Clock interface {
	Now() float64
}

// MonotonicClock measures wall time elapsed since it was created.
type MonotonicClock struct {
	origin time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{origin: time.Now()}
}

func (c *MonotonicClock) Now() float64 {
	return Origin + Millis(time.Since(c.origin))
}

// ManualClock only moves when told to. Tests and replays drive it through
// Loop.Advance.
type ManualClock struct {
	now float64
}

func NewManualClock() *ManualClock {
	return &ManualClock{now: Origin}
}

func (c *ManualClock) Now() float64 { return c.now }

// Set moves the clock to t. Moving backwards is ignored.
func (c *ManualClock) Set(t float64) {
	if t > c.now {
		c.now = t
	}
}

// Millis converts a duration to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Duration converts fractional milliseconds to a duration.
func Duration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
