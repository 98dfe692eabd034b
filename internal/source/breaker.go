package source

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pders01/newsync/internal/debuglog"
)

// BreakerConfig configures a circuit breaker around a Source.
type BreakerConfig struct {
	Name string
	// Failures is the number of consecutive failed fetches that opens the
	// circuit.
	Failures uint32
	// Timeout is how long the circuit stays open before a trial fetch.
	Timeout time.Duration
}

// Breaker fails fast while the wrapped source keeps failing. Once open, every
// Fetch returns gobreaker.ErrOpenState without touching the network until
// Timeout has passed; then one trial fetch decides whether to close again.
type Breaker struct {
	src Source
	cb  *gobreaker.CircuitBreaker
}

func NewBreaker(src Source, cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "source"
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	log := debuglog.WithFields(map[string]any{"component": "breaker", "circuit": cfg.Name})

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			// a cancelled fetch says nothing about the remote
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.With("from", from.String()).With("to", to.String()).Warnf("circuit breaker state changed")
		},
	}
	return &Breaker{src: src, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Fetch(ctx context.Context) (*Payload, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.src.Fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	payload, _ := res.(*Payload)
	return payload, nil
}

// State reports the breaker state: closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
