// Package timing holds the time base of the executive: the rover elapsed time,
// the cycle frequency and the clock the loop sleeps on.
package timing

import (
	"fmt"
	"time"
)

// ElapsedSec is the rover elapsed time (RET) in seconds. It starts at zero
// when the executive starts and never goes backwards within a run.
type ElapsedSec float64

// Advance returns the elapsed time moved forward by d.
func (t ElapsedSec) Advance(d time.Duration) ElapsedSec {
	if d < 0 {
		return t
	}

	return t + ElapsedSec(d.Seconds())
}

func (t ElapsedSec) String() string {
	return fmt.Sprintf("%.2f", float64(t))
}

// A Clock tells the wall time and suspends the caller.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// WallClock is a Clock backed by the operating system.
type WallClock struct{}

// Now returns the current wall time.
func (WallClock) Now() time.Time {
	return time.Now()
}

// Sleep blocks the calling goroutine for d.
func (WallClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
