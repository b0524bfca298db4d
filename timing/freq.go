package timing

import (
	"log"
	"time"
)

// Freq defines the type of frequency
type Freq float64

// Hz is the unit of frequency.
const Hz Freq = 1

// Period returns the time between two consecutive cycles.
func (f Freq) Period() time.Duration {
	if f <= 0 {
		log.Panic("frequency must be positive")
	}

	return time.Duration(float64(time.Second) / float64(f))
}
