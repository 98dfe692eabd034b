// Package observe provides a live value that any number of subscribers can
// watch without polling.
//
// A subscriber always receives the current value first and then every later
// value it manages to keep up with. Each subscriber owns a one-slot mailbox: a
// newer value replaces an undelivered older one, so Set never blocks and a slow
// subscriber only skips intermediate values, never the latest one.
package observe

import (
	"context"
	"sync"
)

type subscriber[T any] struct {
	ch chan T
}

// Value holds the latest published T and fans it out to subscribers.
type Value[T any] struct {
	mu     sync.Mutex
	cur    T
	subs   map[*subscriber[T]]struct{}
	done   chan struct{}
	closed bool
}

// New returns a Value holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{
		cur:  initial,
		subs: make(map[*subscriber[T]]struct{}),
		done: make(chan struct{}),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set publishes x to every subscriber. Setting a closed Value only updates
// the value returned by Get.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = x
	if v.closed {
		return
	}
	for s := range v.subs {
		deliver(s.ch, x)
	}
}

// Update applies fn to the current value and publishes the result atomically
// with respect to other Set and Update calls.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = fn(v.cur)
	if !v.closed {
		for s := range v.subs {
			deliver(s.ch, v.cur)
		}
	}
	return v.cur
}

// Subscribe returns a channel that yields the current value immediately and
// then subsequent values. The channel is closed once ctx is done or the Value
// is closed. Subscriptions are independent of each other.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	s := &subscriber[T]{ch: make(chan T, 1)}

	v.mu.Lock()
	s.ch <- v.cur
	if v.closed {
		close(s.ch)
		v.mu.Unlock()
		return s.ch
	}
	v.subs[s] = struct{}{}
	v.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-v.done:
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.subs[s]; ok {
			delete(v.subs, s)
			close(s.ch)
		}
	}()

	return s.ch
}

// subscribers reports the number of live subscriptions.
func (v *Value[T]) subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// Close ends every subscription. It is safe to call more than once.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for s := range v.subs {
		delete(v.subs, s)
		close(s.ch)
	}
	close(v.done)
}

// deliver must be called with the owning Value locked. Only the owner sends
// on ch, so after the drain the slot is free and the send cannot block.
func deliver[T any](ch chan T, x T) {
	select {
	case <-ch:
	default:
	}
	ch <- x
}
