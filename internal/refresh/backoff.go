package refresh

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffPolicy decides how long the Scheduler waits after an attempt. It is
// consulted once per attempt with that attempt's terminal status.
type BackoffPolicy interface {
	Next(status Status) time.Duration
}

// FixedDelay waits the same duration after every attempt, whatever its
// outcome.
type FixedDelay time.Duration

func (d FixedDelay) Next(Status) time.Duration {
	return time.Duration(d)
}

// ExponentialBackoff waits the base interval after a success and grows the
// wait after consecutive failures, up to a ceiling. Jitter only ever adds to
// the wait: no delay is shorter than the base interval.
type ExponentialBackoff struct {
	mu   sync.Mutex
	base time.Duration
	b    *backoff.ExponentialBackOff
}

// NewExponentialBackoff starts at base after the first failure and doubles
// up to ceiling. jitter is the randomization factor in [0, 1).
func NewExponentialBackoff(base, ceiling time.Duration, jitter float64) *ExponentialBackoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = ceiling
	b.Multiplier = 2
	b.RandomizationFactor = jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return &ExponentialBackoff{base: base, b: b}
}

func (e *ExponentialBackoff) Next(status Status) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !status.Failed() {
		e.b.Reset()
		return e.base
	}
	d := e.b.NextBackOff()
	if d == backoff.Stop {
		return e.b.MaxInterval
	}
	return max(d, e.base)
}
