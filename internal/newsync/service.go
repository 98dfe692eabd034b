// Package newsync is the process boundary of the news cache. A Service owns
// the background refresh loop and exposes the cached collection and the
// refresh status as live views.
package newsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pders01/newsync/internal/debuglog"
	"github.com/pders01/newsync/internal/observe"
	"github.com/pders01/newsync/internal/refresh"
	"github.com/pders01/newsync/internal/source"
	"github.com/pders01/newsync/internal/storage"
)

var (
	// ErrAlreadyStarted is returned by Start while the loop is running.
	ErrAlreadyStarted = errors.New("service already started")
	// ErrRunning is returned by RefreshOnce while the loop is running.
	ErrRunning = errors.New("refresh loop is running")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("service closed")
)

// Options configures a Service.
type Options struct {
	// Policy decides the delay between attempts. Nil means a fixed delay of
	// refresh.DefaultInterval.
	Policy       refresh.BackoffPolicy
	PruneMissing bool
	// OnFinish, when set, sees every terminal status in attempt order. It
	// runs on the refresh loop and must not block.
	OnFinish func(refresh.Status)
}

type Service struct {
	source     source.Source
	store      *storage.Store
	ownsStore  bool
	status     *observe.Value[refresh.Status]
	reconciler *refresh.Reconciler
	scheduler  *refresh.Scheduler

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	log *debuglog.FieldLogger
}

// New wires src and store into a Service. The caller keeps ownership of
// store.
func New(src source.Source, store *storage.Store, opts Options) *Service {
	status := observe.New(refresh.Status{})
	ropts := []refresh.Option{refresh.WithPruneMissing(opts.PruneMissing)}
	if opts.OnFinish != nil {
		ropts = append(ropts, refresh.WithFinishHook(opts.OnFinish))
	}
	reconciler := refresh.NewReconciler(src, store, status, ropts...)

	return &Service{
		source:     src,
		store:      store,
		status:     status,
		reconciler: reconciler,
		scheduler:  refresh.NewScheduler(reconciler, opts.Policy),
		log:        debuglog.WithFields(map[string]any{"component": "service"}),
	}
}

// Start launches the refresh loop. The first attempt runs immediately. The
// loop ends when ctx is done or Stop is called; a stopped Service can be
// started again.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.runningLocked() {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.scheduler.Run(loopCtx)
	}()

	s.log.Infof("refresh loop started")
	return nil
}

// Stop cancels the loop and waits for it to exit. An in-flight attempt is
// cancelled; its write is rolled back if it had not committed. Stop on a
// Service that is not running is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	s.log.Infof("refresh loop stopped")
}

func (s *Service) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		// the parent context ended the loop
		s.cancel()
		s.cancel, s.done = nil, nil
		return false
	default:
		return true
	}
}

// Running reports whether the loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// TriggerRefreshNow requests an attempt without waiting for the delay. A
// request made while an attempt is in flight runs right after it. A request
// made while the loop is stopped is served by the immediate first attempt of
// the next Start; it does not cause a second one.
func (s *Service) TriggerRefreshNow() {
	s.scheduler.Trigger()
}

// RefreshOnce runs a single attempt synchronously. It fails with ErrRunning
// while the loop is active, since attempts must not overlap.
func (s *Service) RefreshOnce(ctx context.Context) (refresh.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		return refresh.Status{}, ErrRunning
	}
	return s.reconciler.RefreshOnce(ctx), nil
}

// ObserveCollection streams the cached collection, newest first. The current
// snapshot arrives first, then every committed change. A slow reader only
// misses intermediate snapshots.
func (s *Service) ObserveCollection(ctx context.Context) <-chan []storage.NewsRecord {
	return s.store.Subscribe(ctx)
}

// ObserveStatus streams the refresh status with the same replay-latest
// semantics as ObserveCollection.
func (s *Service) ObserveStatus(ctx context.Context) <-chan refresh.Status {
	return s.status.Subscribe(ctx)
}

// Status returns the current refresh status.
func (s *Service) Status() refresh.Status {
	return s.status.Get()
}

// SourceState reports the circuit breaker state of the source (closed,
// half-open or open), or "" when the source has no breaker.
func (s *Service) SourceState() string {
	if b, ok := s.source.(interface{ State() string }); ok {
		return b.State()
	}
	return ""
}

// Store returns the underlying cache store.
func (s *Service) Store() *storage.Store {
	return s.store
}

// Close stops the loop, ends every status subscription and, when the
// Service opened the store itself, closes it.
func (s *Service) Close() error {
	s.Stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.status.Close()
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("closing store: %w", err)
		}
	}
	return nil
}
