package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// Session outcomes used as the "outcome" label.
const (
	OutcomeCompleted  = "completed"
	OutcomeSuperseded = "superseded"
	OutcomeFailed     = "failed"
	OutcomeClosed     = "closed"
	OutcomeRejected   = "rejected"
)

// chunkBuckets spans 4 KiB to 32 MiB.
var chunkBuckets = prometheus.ExponentialBuckets(4096, 4, 8)

// Metrics holds all application metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseBytes   *prometheus.CounterVec

	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	chunksDelivered  prometheus.Counter
	bytesDelivered   prometheus.Counter
	chunkSize        prometheus.Histogram
	tickDuration     prometheus.Histogram
	decryptDuration  prometheus.Histogram
	sourceErrors     *prometheus.CounterVec

	registry prometheus.Gatherer
}

// NewMetrics creates metrics registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics registered with reg. Tests use a
// fresh registry to avoid duplicate registration.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpResponseBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_response_bytes_total",
				Help: "Total bytes written in HTTP responses",
			},
			[]string{"method", "path"},
		),
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "loader_sessions_started_total",
			Help: "Total number of playback sessions started",
		}),
		sessionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loader_sessions_finished_total",
				Help: "Total number of load requests finished, by outcome",
			},
			[]string{"outcome"},
		),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loader_sessions_active",
			Help: "Number of sessions currently pumping data",
		}),
		chunksDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "loader_chunks_delivered_total",
			Help: "Total number of decrypted chunks delivered to the engine",
		}),
		bytesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "loader_bytes_delivered_total",
			Help: "Total number of decrypted bytes delivered to the engine",
		}),
		chunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loader_chunk_size_bytes",
			Help:    "Size of delivered chunks in bytes",
			Buckets: chunkBuckets,
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loader_tick_duration_seconds",
			Help:    "Time spent reading, decrypting and delivering one chunk",
			Buckets: prometheus.DefBuckets,
		}),
		decryptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loader_decrypt_duration_seconds",
			Help:    "Time spent in the cipher transform per chunk",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		sourceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loader_source_errors_total",
				Help: "Total number of source read failures",
			},
			[]string{"error_type"},
		),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.registry = g
	}
	return m
}

// getExemplar returns trace_id labels when ctx carries a sampled span.
func getExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}

func observe(ctx context.Context, h prometheus.Observer, v float64) {
	if ex, ok := h.(prometheus.ExemplarObserver); ok {
		if labels := getExemplar(ctx); labels != nil {
			ex.ObserveWithExemplar(v, labels)
			return
		}
	}
	h.Observe(v)
}

// sanitizePathLabel collapses media names into a fixed label to bound
// cardinality.
func sanitizePathLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return "/"
	}
	if len(segs) == 1 {
		return "/" + segs[0]
	}
	return "/" + segs[0] + "/*"
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration, bytes int64) {
	if m == nil {
		return
	}
	p := sanitizePathLabel(path)
	code := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, p, code).Inc()
	observe(ctx, m.httpRequestDuration.WithLabelValues(method, p, code), duration.Seconds())
	m.httpResponseBytes.WithLabelValues(method, p).Add(float64(bytes))
}

// RecordSessionStart records a new active session.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.sessionsActive.Inc()
}

// RecordSessionEnd records the end of an active session with its outcome.
func (m *Metrics) RecordSessionEnd(outcome string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsFinished.WithLabelValues(outcome).Inc()
}

// RecordRequestFinished records a request that finished without ever
// becoming an active session (metadata-only or rejected).
func (m *Metrics) RecordRequestFinished(outcome string) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(outcome).Inc()
}

// RecordChunk records one delivered chunk.
func (m *Metrics) RecordChunk(ctx context.Context, size int, tick, decrypt time.Duration) {
	if m == nil {
		return
	}
	m.chunksDelivered.Inc()
	m.bytesDelivered.Add(float64(size))
	m.chunkSize.Observe(float64(size))
	observe(ctx, m.tickDuration, tick.Seconds())
	m.decryptDuration.Observe(decrypt.Seconds())
}

// RecordSourceError records a failed source read.
func (m *Metrics) RecordSourceError(errorType string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(errorType).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m != nil && m.registry != nil {
		return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	}
	return promhttp.Handler()
}
