// Package metrics exposes refresh outcomes and cache size as Prometheus
// metrics.
//
// Metrics:
//   - newsync_refresh_attempts_total: finished attempts by result (success, fetch, persistence)
//   - newsync_refresh_duration_seconds: attempt duration from loading to terminal status
//   - newsync_refresh_last_success_timestamp: Unix time of the last successful attempt
//   - newsync_refresh_payload_items: items in the last successful payload
//   - newsync_cache_records: records currently in the cache
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pders01/newsync/internal/debuglog"
	"github.com/pders01/newsync/internal/refresh"
	"github.com/pders01/newsync/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Recorder turns status and collection updates into metrics. ObserveStatus is
// meant to run as the Reconciler's finish hook, which sees every attempt; a
// replay-latest status subscription can skip a terminal status while its
// reader is busy. Statuses are counted once per attempt, so repeated values
// are harmless.
type Recorder struct {
	AttemptsTotal        *prometheus.CounterVec
	DurationSeconds      prometheus.Histogram
	LastSuccessTimestamp prometheus.Gauge
	PayloadItems         prometheus.Gauge
	CacheRecords         prometheus.Gauge

	mu          sync.Mutex
	lastAttempt uint64
}

func NewRecorder() *Recorder {
	return &Recorder{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsync_refresh_attempts_total",
			Help: "Finished refresh attempts by result.",
		}, []string{"result"}),
		DurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsync_refresh_duration_seconds",
			Help:    "Duration of refresh attempts.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newsync_refresh_last_success_timestamp",
			Help: "Unix timestamp of the last successful refresh.",
		}),
		PayloadItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newsync_refresh_payload_items",
			Help: "Items in the last successful payload.",
		}),
		CacheRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newsync_cache_records",
			Help: "Records in the local cache.",
		}),
	}
}

// Register adds every metric to reg.
func (r *Recorder) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		r.AttemptsTotal, r.DurationSeconds, r.LastSuccessTimestamp, r.PayloadItems, r.CacheRecords,
	} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering metric: %w", err)
		}
	}
	return nil
}

// ObserveStatus records a terminal status the first time its attempt is seen.
func (r *Recorder) ObserveStatus(st refresh.Status) {
	if st.Attempt == 0 || st.IsLoading {
		return
	}

	r.mu.Lock()
	if st.Attempt <= r.lastAttempt {
		r.mu.Unlock()
		return
	}
	r.lastAttempt = st.Attempt
	r.mu.Unlock()

	result := "success"
	if st.Failed() {
		result = string(st.ErrorKind)
	}
	r.AttemptsTotal.WithLabelValues(result).Inc()

	if !st.StartedAt.IsZero() && !st.FinishedAt.IsZero() {
		r.DurationSeconds.Observe(st.FinishedAt.Sub(st.StartedAt).Seconds())
	}
	if st.Succeeded() {
		r.LastSuccessTimestamp.Set(float64(st.FinishedAt.Unix()))
		if st.LastPayload != nil {
			r.PayloadItems.Set(float64(len(st.LastPayload.Items)))
		}
	}
}

func (r *Recorder) ObserveCollection(records []storage.NewsRecord) {
	r.CacheRecords.Set(float64(len(records)))
}

// Watch records the cache size from every snapshot until ctx is done or the
// collection view is closed. Only the latest size matters, so skipped
// snapshots lose nothing.
func (r *Recorder) Watch(ctx context.Context, collection <-chan []storage.NewsRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case records, ok := <-collection:
			if !ok {
				return
			}
			r.ObserveCollection(records)
		}
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		debuglog.Infof("metrics server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down metrics server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
