package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/newsync/internal/observe"
	"github.com/pders01/newsync/internal/refresh"
	"github.com/pders01/newsync/internal/source"
	"github.com/pders01/newsync/internal/storage"
)

func TestRecorder_ObserveStatus(t *testing.T) {
	r := NewRecorder()
	start := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)

	r.ObserveStatus(refresh.Status{})
	r.ObserveStatus(refresh.Status{IsLoading: true, Attempt: 1, StartedAt: start})
	assert.Zero(t, testutil.CollectAndCount(r.AttemptsTotal))

	ok := refresh.Status{
		Attempt:     1,
		StartedAt:   start,
		FinishedAt:  start.Add(2 * time.Second),
		LastPayload: &source.Payload{Items: make([]source.Item, 3)},
	}
	r.ObserveStatus(ok)
	r.ObserveStatus(ok) // replayed value is not counted twice

	assert.Equal(t, 1.0, testutil.ToFloat64(r.AttemptsTotal.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.PayloadItems))
	assert.Equal(t, float64(start.Add(2*time.Second).Unix()), testutil.ToFloat64(r.LastSuccessTimestamp))
	assert.Equal(t, 1, testutil.CollectAndCount(r.DurationSeconds))

	r.ObserveStatus(refresh.Status{Attempt: 2, LastError: "network down", ErrorKind: refresh.KindFetch, LastPayload: ok.LastPayload})
	r.ObserveStatus(refresh.Status{Attempt: 3, LastError: "disk full", ErrorKind: refresh.KindPersistence})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.AttemptsTotal.WithLabelValues("fetch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.AttemptsTotal.WithLabelValues("persistence")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.PayloadItems), "failures keep the last payload size")
}

func TestRecorder_Watch(t *testing.T) {
	r := NewRecorder()
	collection := observe.New([]storage.NewsRecord{{ID: "1"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Watch(ctx, collection.Subscribe(ctx))
	}()

	collection.Set([]storage.NewsRecord{{ID: "1"}, {ID: "2"}})
	require.Eventually(t, func() bool { return testutil.ToFloat64(r.CacheRecords) == 2 },
		time.Second, 5*time.Millisecond)

	collection.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after the view closed")
	}
}

// Back-to-back attempts finish faster than a status subscriber could read
// them; as a finish hook the recorder still counts each one.
func TestRecorder_FinishHookCountsEveryAttempt(t *testing.T) {
	r := NewRecorder()
	calls := 0
	src := source.Func(func(context.Context) (*source.Payload, error) {
		calls++
		if calls%2 == 0 {
			return nil, errors.New("network down")
		}
		return &source.Payload{}, nil
	})
	status := observe.New(refresh.Status{})
	rec := refresh.NewReconciler(src, nil, status, refresh.WithFinishHook(r.ObserveStatus))

	for i := 0; i < 10; i++ {
		rec.RefreshOnce(context.Background())
	}

	assert.Equal(t, 5.0, testutil.ToFloat64(r.AttemptsTotal.WithLabelValues("success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.AttemptsTotal.WithLabelValues("fetch")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder()
	require.NoError(t, r.Register(reg))
	r.ObserveCollection(make([]storage.NewsRecord, 5))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "newsync_cache_records 5")

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, NewRecorder().Register(reg))
	assert.Error(t, NewRecorder().Register(reg))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, addr, Handler(prometheus.NewRegistry())) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
