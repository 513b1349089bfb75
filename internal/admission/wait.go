package admission

import (
	"context"
	"time"
)

// DefaultMaxWait bounds WaitUntilAllowed when the caller passes a
// non-positive maxWait.
const DefaultMaxWait = 5 * time.Minute

// WaitUntilAllowed polls Check for identity until it is admitted or
// the wait budget runs out. It returns true as soon as a check
// passes and false once cumulative elapsed time exceeds maxWait —
// a timeout is a normal outcome, not an error. Note that an admitted
// slot is not reserved: commit it with TryAcquire (or Record).
//
// Between polls it sleeps for the remaining backoff clamped to
// [1s,5s], holding no lock, so waiters never block other identities'
// decisions. Cancellation via ctx is observed every iteration and
// ends the wait with false within one poll interval.
func (l *Limiter) WaitUntilAllowed(ctx context.Context, identity string, maxWait time.Duration) bool {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	start := l.now()

	for {
		d := l.Check(identity)
		if d.Allowed {
			return true
		}
		if l.now().Sub(start) > maxWait {
			return false
		}

		sleep := d.RetryAfter
		if sleep < l.pollMin {
			sleep = l.pollMin
		}
		if sleep > l.pollMax {
			sleep = l.pollMax
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}
