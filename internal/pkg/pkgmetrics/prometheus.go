package pkgmetrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for chunk attempts.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder is the Prometheus recorder for upload runs and chunk attempts.
//
// Each Recorder owns its registry so tests can create as many as they like.
type Recorder struct {
	registry *prometheus.Registry

	chunkAttempts  *prometheus.CounterVec
	chunkDuration  *prometheus.HistogramVec
	rowsUploaded   *prometheus.CounterVec
	rowsFailed     *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	cleaningErrors *prometheus.CounterVec
}

// NewRecorder builds a Recorder with Go and process collectors registered.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		chunkAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_chunk_attempts_total",
			Help: "Chunk insert attempts by table, retry level and outcome.",
		}, []string{"table", "level", "outcome"}),
		chunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upload_chunk_duration_seconds",
			Help:    "Duration of chunk insert attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"table", "outcome"}),
		rowsUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_rows_uploaded_total",
			Help: "Rows accepted by the storage service.",
		}, []string{"table"}),
		rowsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_rows_failed_permanently_total",
			Help: "Rows written to the failure artifact after exhausting retries.",
		}, []string{"table"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_runs_total",
			Help: "Upload runs by terminal state.",
		}, []string{"table", "state"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upload_run_duration_seconds",
			Help:    "Duration of upload runs from payload receipt to terminal state.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"table", "state"}),
		cleaningErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_cleaning_errors_total",
			Help: "Cell values replaced with null because they could not be coerced.",
		}, []string{"column"}),
	}

	registry.MustRegister(
		r.chunkAttempts,
		r.chunkDuration,
		r.rowsUploaded,
		r.rowsFailed,
		r.runsTotal,
		r.runDuration,
		r.cleaningErrors,
	)

	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveChunk records one chunk insert attempt.
func (r *Recorder) ObserveChunk(table string, level int, ok bool, accepted int, took time.Duration) {
	outcome := OutcomeFailure
	if ok {
		outcome = OutcomeSuccess
		r.rowsUploaded.WithLabelValues(table).Add(float64(accepted))
	}

	r.chunkAttempts.WithLabelValues(table, strconv.Itoa(level), outcome).Inc()
	r.chunkDuration.WithLabelValues(table, outcome).Observe(took.Seconds())
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(table, state string, failedRows int, took time.Duration) {
	r.runsTotal.WithLabelValues(table, state).Inc()
	r.runDuration.WithLabelValues(table, state).Observe(took.Seconds())
	if failedRows > 0 {
		r.rowsFailed.WithLabelValues(table).Add(float64(failedRows))
	}
}

// ObserveCleaning records cells nulled during normalization, per column.
func (r *Recorder) ObserveCleaning(counts map[string]int) {
	for column, n := range counts {
		if n > 0 {
			r.cleaningErrors.WithLabelValues(column).Add(float64(n))
		}
	}
}
