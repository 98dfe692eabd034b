// Package refresh keeps the local news cache in step with the remote source.
//
// A Reconciler performs one fetch, map, persist and report cycle. A Scheduler
// drives it on a fixed delay for the lifetime of the process, one attempt at a
// time. Every outcome is published through an observable Status; no error
// ever leaves the Reconciler.
package refresh

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pders01/newsync/internal/debuglog"
	"github.com/pders01/newsync/internal/observe"
	"github.com/pders01/newsync/internal/source"
	"github.com/pders01/newsync/internal/storage"
)

// Store is the write side of the cache.
type Store interface {
	UpsertBatch(ctx context.Context, records []storage.NewsRecord, opts ...storage.UpsertOption) error
}

// Reconciler runs refresh attempts. Its methods must not be called
// concurrently; the Scheduler guarantees this.
type Reconciler struct {
	source  source.Source
	store   Store
	status  *observe.Value[Status]
	prune   bool
	onDone  func(Status)
	now     func() time.Time
	attempt atomic.Uint64
	log     *debuglog.FieldLogger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPruneMissing deletes cached records absent from a successful payload.
func WithPruneMissing(prune bool) Option {
	return func(r *Reconciler) { r.prune = prune }
}

// WithFinishHook calls fn with every terminal status, synchronously and in
// attempt order, right after it is published. Unlike a status subscription it
// never skips an attempt. fn must not block.
func WithFinishHook(fn func(Status)) Option {
	return func(r *Reconciler) { r.onDone = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler returns a Reconciler publishing to status. The Reconciler is
// the only writer of status.
func NewReconciler(src source.Source, store Store, status *observe.Value[Status], opts ...Option) *Reconciler {
	r := &Reconciler{
		source: src,
		store:  store,
		status: status,
		now:    time.Now,
		log:    debuglog.WithFields(map[string]any{"component": "reconciler"}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RefreshOnce performs one attempt and returns the terminal status it
// published. The loading status is always published before the store is
// touched and the terminal status after the write outcome is known.
func (r *Reconciler) RefreshOnce(ctx context.Context) Status {
	n := r.attempt.Add(1)
	log := r.log.With("attempt", n)

	started := r.status.Update(func(prev Status) Status {
		return Status{
			IsLoading:   true,
			LastPayload: prev.LastPayload,
			Attempt:     n,
			StartedAt:   r.now(),
		}
	})
	log.Debugf("refresh started")

	payload, err := r.fetch(ctx)
	if err == nil {
		err = r.persist(ctx, payload)
	}

	if err != nil {
		log.With("kind", kindOf(err)).Warnf("refresh failed: %v", err)
		return r.finish(started, nil, err)
	}

	log.With("items", len(payload.Items)).Infof("refresh succeeded")
	return r.finish(started, payload, nil)
}

func (r *Reconciler) fetch(ctx context.Context) (*source.Payload, error) {
	payload, err := r.source.Fetch(ctx)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	if payload == nil {
		payload = &source.Payload{FetchedAt: r.now()}
	}
	return payload, nil
}

func (r *Reconciler) persist(ctx context.Context, payload *source.Payload) error {
	records := MapItems(payload.Items)
	// an empty payload never prunes: stale records beat an empty cache
	if len(records) == 0 {
		return nil
	}

	var opts []storage.UpsertOption
	if r.prune {
		opts = append(opts, storage.WithPrune())
	}
	if err := r.store.UpsertBatch(ctx, records, opts...); err != nil {
		return &PersistenceError{Records: len(records), Err: err}
	}
	return nil
}

func (r *Reconciler) finish(started Status, payload *source.Payload, err error) Status {
	st := r.status.Update(func(prev Status) Status {
		next := Status{
			LastPayload: prev.LastPayload,
			Attempt:     started.Attempt,
			StartedAt:   started.StartedAt,
			FinishedAt:  r.now(),
		}
		if err != nil {
			next.LastError = message(err)
			next.ErrorKind = kindOf(err)
			return next
		}
		next.LastPayload = payload
		return next
	})
	if r.onDone != nil {
		r.onDone(st)
	}
	return st
}

// MapItem converts a remote item into the cached record shape.
func MapItem(item source.Item) storage.NewsRecord {
	return storage.NewsRecord{
		ID:           item.ID,
		Title:        item.Title,
		Introduction: item.Introduction,
		PublishedAt:  item.PublishedAt,
		ImageURL:     item.ImageURL(),
	}
}

// MapItems maps items in order.
func MapItems(items []source.Item) []storage.NewsRecord {
	records := make([]storage.NewsRecord, 0, len(items))
	for _, item := range items {
		records = append(records, MapItem(item))
	}
	return records
}
