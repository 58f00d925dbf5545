package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/ampviewer/internal/cacheurl"
	"github.com/GriffinCanCode/ampviewer/internal/messaging"
)

const namespace = "ampviewer"

// Metrics holds all Prometheus metrics. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Cache URL metrics
	CacheURLsBuilt *prometheus.CounterVec

	// Handshake metrics
	HandshakesStarted     *prometheus.CounterVec
	HandshakesEstablished *prometheus.CounterVec
	HandshakesClosed      *prometheus.CounterVec
	HandshakeProbes       prometheus.Histogram
	MessagesDropped       *prometheus.CounterVec
	AttachmentsActive     prometheus.Gauge

	// Prefetch metrics
	PrefetchResults  *prometheus.CounterVec
	PrefetchDuration prometheus.Histogram

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"totalRequests"`
	TotalErrors       int64   `json:"totalErrors"`
	CacheURLsBuilt    int64   `json:"cacheUrlsBuilt"`
	Handshakes        int64   `json:"handshakesEstablished"`
	ActiveAttachments int64   `json:"activeAttachments"`
	ActiveConnections int64   `json:"activeConnections"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
}

// NewMetrics creates a metrics collector with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

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
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		CacheURLsBuilt: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_urls_built_total",
				Help:      "Cache URLs built, by mode and label derivation",
			},
			[]string{"mode", "label"},
		),

		HandshakesStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handshakes_started_total",
				Help:      "Handshakes started, by strategy",
			},
			[]string{"strategy"},
		),
		HandshakesEstablished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handshakes_established_total",
				Help:      "Handshakes that reached the established state, by strategy",
			},
			[]string{"strategy"},
		),
		HandshakesClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handshakes_closed_total",
				Help:      "Sessions torn down, by strategy and the state they were in",
			},
			[]string{"strategy", "from"},
		),
		HandshakeProbes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handshake_probes",
				Help:      "Probes posted before a polled handshake completed",
				Buckets:   []float64{0, 1, 2, 3, 5, 10, 30, 60},
			},
		),
		MessagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dropped_total",
				Help:      "Inbound messages discarded, by reason",
			},
			[]string{"reason"},
		),
		AttachmentsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "attachments_active",
				Help:      "Number of attached documents",
			},
		),

		PrefetchResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prefetch_results_total",
				Help:      "Prefetch outcomes, by status class",
			},
			[]string{"status"},
		),
		PrefetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prefetch_duration_seconds",
				Help:      "Prefetch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active bridge connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Bridge frames, by direction and type",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// CacheURLBuilt records a built cache URL
func (m *Metrics) CacheURLBuilt(mode cacheurl.Mode, kind string) {
	m.CacheURLsBuilt.WithLabelValues(mode.String(), kind).Inc()
	m.mu.Lock()
	m.snapshot.CacheURLsBuilt++
	m.mu.Unlock()
}

// SetAttachmentsActive sets the number of attached documents
func (m *Metrics) SetAttachmentsActive(count int) {
	m.AttachmentsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveAttachments = int64(count)
	m.mu.Unlock()
}

// HandshakeStarted implements messaging.Observer
func (m *Metrics) HandshakeStarted(strategy messaging.Strategy) {
	m.HandshakesStarted.WithLabelValues(strategy.String()).Inc()
}

// HandshakeEstablished implements messaging.Observer
func (m *Metrics) HandshakeEstablished(strategy messaging.Strategy, probes int) {
	m.HandshakesEstablished.WithLabelValues(strategy.String()).Inc()
	if strategy == messaging.StrategyPoll {
		m.HandshakeProbes.Observe(float64(probes))
	}
	m.mu.Lock()
	m.snapshot.Handshakes++
	m.mu.Unlock()
}

// HandshakeClosed implements messaging.Observer
func (m *Metrics) HandshakeClosed(strategy messaging.Strategy, from messaging.State) {
	m.HandshakesClosed.WithLabelValues(strategy.String(), from.String()).Inc()
}

// MessageDropped implements messaging.Observer
func (m *Metrics) MessageDropped(reason messaging.DropReason) {
	m.MessagesDropped.WithLabelValues(string(reason)).Inc()
}

// RecordPrefetch records one prefetch outcome
func (m *Metrics) RecordPrefetch(status int, duration time.Duration) {
	m.PrefetchResults.WithLabelValues(statusClass(status)).Inc()
	m.PrefetchDuration.Observe(duration.Seconds())
}

// RecordWSMessage records a bridge frame
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments bridge connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements bridge connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
