package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/newsync/internal/observe"
	"github.com/pders01/newsync/internal/source"
	"github.com/pders01/newsync/internal/storage"
)

func setupStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "news.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func payloadOf(items ...source.Item) *source.Payload {
	return &source.Payload{Items: items, Total: len(items), Page: 1, TotalPages: 1}
}

func staticSource(p *source.Payload) source.Source {
	return source.Func(func(context.Context) (*source.Payload, error) { return p, nil })
}

func failingSource(err error) source.Source {
	return source.Func(func(context.Context) (*source.Payload, error) { return nil, err })
}

// recordingStore remembers the status seen at write time.
type recordingStore struct {
	mu      sync.Mutex
	status  *observe.Value[Status]
	err     error
	batches [][]storage.NewsRecord
	pruned  []bool
	atWrite []Status
}

func (s *recordingStore) UpsertBatch(_ context.Context, records []storage.NewsRecord, opts ...storage.UpsertOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != nil {
		s.atWrite = append(s.atWrite, s.status.Get())
	}
	s.pruned = append(s.pruned, len(opts) > 0)
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, records)
	return nil
}

func TestReconciler_SuccessMirrorsPayload(t *testing.T) {
	store := setupStore(t)
	status := observe.New(Status{})
	payload := payloadOf(
		source.Item{ID: "1", Title: "A", PublishedAt: "10/01/2025 09:00:00"},
		source.Item{ID: "2", Title: "B", PublishedAt: "11/01/2025 09:00:00"},
	)

	r := NewReconciler(staticSource(payload), store, status)
	got := r.RefreshOnce(context.Background())

	assert.True(t, got.Succeeded())
	assert.False(t, got.IsLoading)
	assert.Empty(t, got.LastError)
	assert.Equal(t, KindNone, got.ErrorKind)
	assert.Same(t, payload, got.LastPayload)
	assert.Equal(t, uint64(1), got.Attempt)
	assert.Equal(t, got, status.Get())

	records, err := store.All()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[0].ID)
	assert.Equal(t, "1", records[1].ID)
}

func TestReconciler_FetchFailureLeavesStoreUntouched(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertBatch(ctx, []storage.NewsRecord{{ID: "old", Title: "Old"}}))

	status := observe.New(Status{})
	r := NewReconciler(failingSource(errors.New("network down")), store, status)
	got := r.RefreshOnce(ctx)

	assert.True(t, got.Failed())
	assert.False(t, got.IsLoading)
	assert.Equal(t, "network down", got.LastError)
	assert.Equal(t, KindFetch, got.ErrorKind)
	assert.Nil(t, got.LastPayload)

	records, err := store.All()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "old", records[0].ID)
}

func TestReconciler_PersistenceFailure(t *testing.T) {
	status := observe.New(Status{})
	store := &recordingStore{err: errors.New("disk full")}
	r := NewReconciler(staticSource(payloadOf(source.Item{ID: "1"})), store, status)

	got := r.RefreshOnce(context.Background())

	assert.True(t, got.Failed())
	assert.Equal(t, "disk full", got.LastError)
	assert.Equal(t, KindPersistence, got.ErrorKind)
	assert.Nil(t, got.LastPayload)
}

func TestReconciler_FailureKeepsPreviousPayload(t *testing.T) {
	store := setupStore(t)
	status := observe.New(Status{})
	first := payloadOf(source.Item{ID: "1"})

	fail := false
	src := source.Func(func(context.Context) (*source.Payload, error) {
		if fail {
			return nil, errors.New("timeout")
		}
		return first, nil
	})
	r := NewReconciler(src, store, status)

	require.True(t, r.RefreshOnce(context.Background()).Succeeded())
	fail = true
	got := r.RefreshOnce(context.Background())

	assert.True(t, got.Failed())
	assert.Same(t, first, got.LastPayload)
	assert.Equal(t, uint64(2), got.Attempt)
}

func TestReconciler_LoadingPublishedBeforeWrite(t *testing.T) {
	status := observe.New(Status{})
	store := &recordingStore{status: status}
	r := NewReconciler(staticSource(payloadOf(source.Item{ID: "1"})), store, status)

	got := r.RefreshOnce(context.Background())

	require.Len(t, store.atWrite, 1)
	assert.True(t, store.atWrite[0].IsLoading)
	assert.Empty(t, store.atWrite[0].LastError)
	assert.False(t, got.IsLoading)
}

func TestReconciler_SubscriberSeesLoadingThenResult(t *testing.T) {
	store := setupStore(t)
	status := observe.New(Status{})

	release := make(chan struct{})
	src := source.Func(func(context.Context) (*source.Payload, error) {
		<-release
		return payloadOf(source.Item{ID: "1"}), nil
	})
	r := NewReconciler(src, store, status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := status.Subscribe(ctx)
	assert.Equal(t, Status{}, <-ch)

	done := make(chan Status, 1)
	go func() { done <- r.RefreshOnce(context.Background()) }()

	select {
	case s := <-ch:
		assert.True(t, s.IsLoading)
	case <-time.After(time.Second):
		t.Fatal("no loading status")
	}

	close(release)
	final := <-done
	assert.True(t, final.Succeeded())

	select {
	case s := <-ch:
		assert.False(t, s.IsLoading)
	case <-time.After(time.Second):
		t.Fatal("no terminal status")
	}
}

func TestReconciler_LastWriteWins(t *testing.T) {
	store := setupStore(t)
	status := observe.New(Status{})

	title := "first"
	src := source.Func(func(context.Context) (*source.Payload, error) {
		return payloadOf(source.Item{ID: "42", Title: title}), nil
	})
	r := NewReconciler(src, store, status)

	r.RefreshOnce(context.Background())
	title = "second"
	r.RefreshOnce(context.Background())

	rec, err := store.Get("42")
	require.NoError(t, err)
	assert.Equal(t, "second", rec.Title)
}

func TestReconciler_EmptyPayloadDoesNotWrite(t *testing.T) {
	status := observe.New(Status{})
	store := &recordingStore{}
	r := NewReconciler(staticSource(payloadOf()), store, status, WithPruneMissing(true))

	got := r.RefreshOnce(context.Background())

	assert.True(t, got.Succeeded())
	assert.Empty(t, store.batches)
	assert.Empty(t, store.pruned)
}

func TestReconciler_PruneMissing(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertBatch(ctx, []storage.NewsRecord{{ID: "gone"}, {ID: "kept"}}))

	status := observe.New(Status{})
	r := NewReconciler(staticSource(payloadOf(source.Item{ID: "kept"}, source.Item{ID: "new"})), store, status,
		WithPruneMissing(true))
	require.True(t, r.RefreshOnce(ctx).Succeeded())

	_, err := store.Get("gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReconciler_KeepsRecordsAbsentFromPayload(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertBatch(ctx, []storage.NewsRecord{{ID: "old"}}))

	status := observe.New(Status{})
	r := NewReconciler(staticSource(payloadOf(source.Item{ID: "new"})), store, status)
	require.True(t, r.RefreshOnce(ctx).Succeeded())

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReconciler_FinishHookSeesEveryTerminalStatus(t *testing.T) {
	status := observe.New(Status{})
	var seen []Status
	r := NewReconciler(failingSource(errors.New("network down")), setupStore(t), status,
		WithFinishHook(func(st Status) { seen = append(seen, st) }))

	first := r.RefreshOnce(context.Background())
	second := r.RefreshOnce(context.Background())

	require.Len(t, seen, 2)
	assert.Equal(t, first, seen[0])
	assert.Equal(t, second, seen[1])
	assert.False(t, seen[1].IsLoading)
	assert.Equal(t, uint64(2), seen[1].Attempt)
}

func TestReconciler_Clock(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	status := observe.New(Status{})
	r := NewReconciler(staticSource(payloadOf()), &recordingStore{}, status,
		WithClock(func() time.Time { return fixed }))

	got := r.RefreshOnce(context.Background())
	assert.Equal(t, fixed, got.StartedAt)
	assert.Equal(t, fixed, got.FinishedAt)
}

func TestMapItem(t *testing.T) {
	item := source.Item{
		ID:           "7",
		Title:        "Title",
		Introduction: "Intro",
		PublishedAt:  "05/03/2025 08:30:00",
		Images:       `{"image_intro":"images/a.jpg","image_fulltext":"images/b.jpg"}`,
		ImageBase:    "https://agenciadenoticias.ibge.gov.br",
	}

	rec := MapItem(item)
	assert.Equal(t, storage.NewsRecord{
		ID:           "7",
		Title:        "Title",
		Introduction: "Intro",
		PublishedAt:  "05/03/2025 08:30:00",
		ImageURL:     "https://agenciadenoticias.ibge.gov.br/images/a.jpg",
	}, rec)
}

func TestMapItems_PreservesOrder(t *testing.T) {
	recs := MapItems([]source.Item{
		{ID: "b", Title: "Second", PublishedAt: "09/04/2025"},
		{ID: "a", Title: "First", Introduction: "intro"},
	})
	want := []storage.NewsRecord{
		{ID: "b", Title: "Second", PublishedAt: "09/04/2025"},
		{ID: "a", Title: "First", Introduction: "intro"},
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Errorf("MapItems mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, MapItems(nil))
}

func TestErrors_Classification(t *testing.T) {
	cause := errors.New("boom")

	fe := &FetchError{Err: cause}
	assert.ErrorIs(t, fe, cause)
	assert.Equal(t, KindFetch, kindOf(fe))
	assert.Equal(t, "boom", message(fe))
	assert.Equal(t, "fetching news: boom", fe.Error())

	pe := &PersistenceError{Records: 3, Err: cause}
	assert.ErrorIs(t, pe, cause)
	assert.Equal(t, KindPersistence, kindOf(pe))
	assert.Equal(t, "saving 3 records: boom", pe.Error())

	assert.Equal(t, KindNone, kindOf(cause))
}
