package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/relay"
)

const namespace = "webrelay"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Relay metrics
	RelayTotal     *prometheus.CounterVec
	RelayDuration  *prometheus.HistogramVec
	RelayFailures  *prometheus.CounterVec
	UpstreamTotal  *prometheus.CounterVec
	UpstreamTiming *prometheus.HistogramVec

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	startTime  time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for the health endpoint
type MetricsSnapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	UpstreamErrors int64   `json:"upstream_errors"`
	AvgDurationMS  float64 `json:"avg_duration_ms"`
	UptimeSeconds  float64 `json:"uptime_seconds"`

	totalDuration float64
}

// StoreStats is the view of a cache or jar exported as gauges.
type StoreStats interface {
	Len() int
}

// ByteStore additionally reports its payload size.
type ByteStore interface {
	StoreStats
	Size() int64
}

// OpenLister reports open circuit breakers.
type OpenLister interface {
	Open() []string
}

// NewMetrics creates a metrics collector registered with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewRegistryMetrics creates a metrics collector on a private registry that
// also exports Go runtime and process metrics.
func NewRegistryMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(reg, reg)
}

// NewMetricsWith creates a metrics collector on the given registry.
func NewMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		registerer: reg,
		gatherer:   gatherer,
		startTime:  time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000, 50000000},
			},
			[]string{"method", "path"},
		),

		// Relay metrics
		RelayTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_responses_total",
				Help:      "Relayed responses by content class, cache status and status code",
			},
			[]string{"class", "cache", "status"},
		),
		RelayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "relay_duration_seconds",
				Help:      "Relay processing time in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 25},
			},
			[]string{"class"},
		),
		RelayFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_failures_total",
				Help:      "Failed relays by error kind",
			},
			[]string{"kind"},
		),
		UpstreamTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Upstream fetches by status class",
			},
			[]string{"code"},
		),
		UpstreamTiming: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Upstream fetch duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 25},
			},
			[]string{"code"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Gatherer returns the registry the metrics are exported from.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// TrackCache exports cache occupancy gauges.
func (m *Metrics) TrackCache(c ByteStore) {
	factory := promauto.With(m.registerer)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Entries held by the response cache",
	}, func() float64 { return float64(c.Len()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_bytes",
		Help:      "Payload bytes held by the response cache",
	}, func() float64 { return float64(c.Size()) })
}

// TrackSessions exports the live session gauge.
func (m *Metrics) TrackSessions(s StoreStats) {
	promauto.With(m.registerer).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Browsing sessions with a live cookie jar",
	}, func() float64 { return float64(s.Len()) })
}

// TrackBreakers exports the number of open upstream circuit breakers.
func (m *Metrics) TrackBreakers(b OpenLister) {
	promauto.With(m.registerer).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upstream_breakers_open",
		Help:      "Upstream hosts whose circuit breaker is open",
	}, func() float64 { return float64(len(b.Open())) })
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status >= http.StatusBadRequest {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RelayCompleted implements relay.Observer.
func (m *Metrics) RelayCompleted(class relay.Class, cache relay.CacheStatus, status int, elapsed time.Duration) {
	m.RelayTotal.WithLabelValues(class.String(), string(cache), strconv.Itoa(status)).Inc()
	m.RelayDuration.WithLabelValues(class.String()).Observe(elapsed.Seconds())

	m.mu.Lock()
	switch cache {
	case relay.CacheHit:
		m.snapshot.CacheHits++
	case relay.CacheMiss:
		m.snapshot.CacheMisses++
	}
	m.mu.Unlock()
}

// RelayFailed implements relay.Observer.
func (m *Metrics) RelayFailed(kind relay.Kind, elapsed time.Duration) {
	m.RelayFailures.WithLabelValues(kind.String()).Inc()
	m.RelayDuration.WithLabelValues("error").Observe(elapsed.Seconds())
}

// UpstreamFetched implements relay.Observer. Hosts are not used as labels
// since the set of targets is unbounded.
func (m *Metrics) UpstreamFetched(_ string, status int, elapsed time.Duration, err error) {
	code := statusClass(status)
	if err != nil {
		code = "error"
		m.mu.Lock()
		m.snapshot.UpstreamErrors++
		m.mu.Unlock()
	}
	m.UpstreamTotal.WithLabelValues(code).Inc()
	m.UpstreamTiming.WithLabelValues(code).Observe(elapsed.Seconds())
}

// Snapshot returns the current counters for the health endpoint.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()

	if snap.TotalRequests > 0 {
		snap.AvgDurationMS = snap.totalDuration / float64(snap.TotalRequests) * 1000
	}
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

var _ relay.Observer = (*Metrics)(nil)
