package idmapping

import "time"

// Backoff is an exponential delay schedule capped at Max
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Default schedules
var (
	DefaultPollBackoff = Backoff{
		Initial:    1 * time.Second,
		Max:        10 * time.Second,
		Multiplier: 2.0,
	}
	DefaultRetryBackoff = Backoff{
		Initial:    500 * time.Millisecond,
		Max:        8 * time.Second,
		Multiplier: 2.0,
	}
)

// Delay returns the wait before the given zero-based attempt
func (b Backoff) Delay(attempt int) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 2.0
	}

	delay := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		delay *= mult
		if b.Max > 0 && delay >= float64(b.Max) {
			return b.Max
		}
	}

	d := time.Duration(delay)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
