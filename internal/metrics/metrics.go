// Package metrics provides Prometheus metrics for the ingest pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ingest pipeline.
type Metrics struct {
	// Folder metrics
	Folders        *prometheus.CounterVec
	FolderDuration *prometheus.HistogramVec

	// File metrics
	FilesFetched    prometheus.Counter
	BytesFetched    prometheus.Counter
	FetchFailures   prometheus.Counter
	Retransmissions prometheus.Counter
	CorruptedFiles  prometheus.Counter

	// Error metrics
	RemoteErrors *prometheus.CounterVec

	// Run metrics
	LastRunTimestamp prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init registers the metrics with the default Prometheus registry and makes
// them available through Get. Call this once at startup.
func Init(namespace string) *Metrics {
	defaultMetrics = NewWithRegistry(prometheus.DefaultRegisterer, namespace)
	return defaultMetrics
}

// NewWithRegistry creates metrics registered with reg.
func NewWithRegistry(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "lab_ingest"
	}
	f := promauto.With(reg)

	return &Metrics{
		Folders: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "folders_total",
				Help:      "Remote folders processed, by outcome",
			},
			[]string{"outcome"},
		),
		FolderDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "folder_duration_seconds",
				Help:      "Time to resolve one remote folder",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~2h
			},
			[]string{"outcome"},
		),
		FilesFetched: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_fetched_total",
				Help:      "Files copied from the remote endpoint, including retransmissions",
			},
		),
		BytesFetched: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_fetched_total",
				Help:      "Bytes copied from the remote endpoint",
			},
		),
		FetchFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Files that could not be copied",
			},
		),
		Retransmissions: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retransmissions_total",
				Help:      "Files fetched a second time after a checksum mismatch",
			},
		),
		CorruptedFiles: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "corrupted_files_total",
				Help:      "Files still mismatching their shipped checksum after retransmission",
			},
		),
		RemoteErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_errors_total",
				Help:      "Run-level remote failures",
			},
			[]string{"operation"},
		),
		LastRunTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics HTTP server until ctx is cancelled.
func Serve(ctx context.Context, address string) error {
	srv := &http.Server{Addr: address, Handler: Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObserveFolder records the outcome and duration of one folder.
func (m *Metrics) ObserveFolder(outcome string, d time.Duration) {
	m.Folders.WithLabelValues(outcome).Inc()
	m.FolderDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddFetched records successfully copied files.
func (m *Metrics) AddFetched(files int, bytes int64) {
	m.FilesFetched.Add(float64(files))
	m.BytesFetched.Add(float64(bytes))
}

// AddFetchFailures increments the fetch failure counter.
func (m *Metrics) AddFetchFailures(n int) {
	m.FetchFailures.Add(float64(n))
}

// AddRetransmissions increments the retransmission counter.
func (m *Metrics) AddRetransmissions(n int) {
	m.Retransmissions.Add(float64(n))
}

// AddCorrupted increments the corrupted file counter.
func (m *Metrics) AddCorrupted(n int) {
	m.CorruptedFiles.Add(float64(n))
}

// IncRemoteErrors increments the remote error counter.
func (m *Metrics) IncRemoteErrors(operation string) {
	m.RemoteErrors.WithLabelValues(operation).Inc()
}

// SetLastRun records the finish time of a run.
func (m *Metrics) SetLastRun(t time.Time) {
	m.LastRunTimestamp.Set(float64(t.Unix()))
}
