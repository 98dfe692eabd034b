package observe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case x, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return x
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestValue_SubscribeReplaysCurrent(t *testing.T) {
	v := New(1)
	v.Set(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := v.Subscribe(ctx)
	assert.Equal(t, 2, recv(t, ch))

	v.Set(3)
	assert.Equal(t, 3, recv(t, ch))
}

func TestValue_SlowSubscriberGetsLatest(t *testing.T) {
	v := New("a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := v.Subscribe(ctx)
	for _, s := range []string{"b", "c", "d"} {
		v.Set(s)
	}

	assert.Equal(t, "d", recv(t, ch))
	select {
	case x := <-ch:
		t.Fatalf("unexpected extra value %q", x)
	default:
	}
}

func TestValue_SetDoesNotBlockWithoutReaders(t *testing.T) {
	v := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		_ = v.Subscribe(ctx)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			v.Set(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked on idle subscribers")
	}
	assert.Equal(t, 999, v.Get())
}

func TestValue_CancelEndsOnlyThatSubscription(t *testing.T) {
	v := New(0)

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	a := v.Subscribe(ctxA)
	b := v.Subscribe(ctxB)
	recv(t, a)
	recv(t, b)

	cancelA()
	require.Eventually(t, func() bool { return v.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	_, ok := <-a
	assert.False(t, ok)

	v.Set(7)
	assert.Equal(t, 7, recv(t, b))
}

func TestValue_Close(t *testing.T) {
	v := New(1)
	ch := v.Subscribe(context.Background())
	recv(t, ch)

	v.Close()
	v.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late := v.Subscribe(context.Background())
	assert.Equal(t, 1, recv(t, late))
	_, ok = <-late
	assert.False(t, ok)
}

func TestValue_Update(t *testing.T) {
	v := New(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Update(func(n int) int { return n + 1 })
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, v.Get())
}
