package admission

import (
	"math"
	"time"
)

// backoffState tracks one identity's failure streak. There is no
// half-open phase: once until elapses the identity is admitted at
// normal throughput again. Jitter on the deadline is what keeps a
// crowd of expiring identities from retrying in lockstep.
type backoffState struct {
	failures int
	until    time.Time
}

// nextBackoff computes the raw delay for the given streak length:
// initial * multiplier^(failures-1), capped at max.
func (c Config) nextBackoff(failures int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(failures-1))
	if d > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	return time.Duration(d)
}

// fail records one more failure and returns the updated state.
// jitter is a sample in [0,1); the delay is scaled into [0.5,1.0]x.
// The deadline never moves backward within a streak, even when a
// jittered shorter delay lands inside the previous one.
func (s backoffState) fail(c Config, now time.Time, jitter float64) backoffState {
	s.failures++
	d := c.nextBackoff(s.failures)
	if c.Jitter {
		d = time.Duration(float64(d) * (0.5 + jitter*0.5))
	}
	if until := now.Add(d); until.After(s.until) {
		s.until = until
	}
	return s
}

func (s backoffState) active(now time.Time) bool {
	return now.Before(s.until)
}
