package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	src := Func(func(context.Context) (*Payload, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errors.New("network down")
		}
		return &Payload{Total: 1}, nil
	})

	b := NewBreaker(src, BreakerConfig{Failures: 2, Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Fetch(ctx)
		assert.EqualError(t, err, "network down")
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Fetch(ctx)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load(), "open circuit must not reach the source")

	fail.Store(false)
	require.Eventually(t, func() bool { return b.State() == "half-open" }, time.Second, 5*time.Millisecond)

	payload, err := b.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, payload.Total)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	src := Func(func(ctx context.Context) (*Payload, error) {
		return nil, ctx.Err()
	})
	b := NewBreaker(src, BreakerConfig{Failures: 1, Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := b.Fetch(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", b.State())
}
