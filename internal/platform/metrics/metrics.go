package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the video vault.
// All methods are safe to call on a nil *Metrics, which disables recording
// (e.g. in tests).
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	errorsTotal      prometheus.Counter
	uploadsTotal     prometheus.Counter
	streamsTotal     *prometheus.CounterVec
	streamBytesTotal prometheus.Counter
	streamDuration   prometheus.Histogram
	activeStreams    prometheus.Gauge
	videosTotal      prometheus.Gauge
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
}

// New creates and registers Prometheus metrics for the video vault.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_requests_total",
		Help: "Total number of HTTP requests received by response status class",
	}, []string{"class"})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vault_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	uploadsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vault_uploads_total",
		Help: "Total number of videos successfully uploaded",
	})
	streamsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_streams_total",
		Help: "Total number of stream requests by outcome",
	}, []string{"status"})
	streamBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vault_stream_bytes_total",
		Help: "Total number of bytes relayed to playback clients",
	})
	streamDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vault_stream_duration_seconds",
		Help:    "Duration of completed stream relays",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vault_active_streams",
		Help: "Number of in-progress stream relays",
	})
	videosTotal := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vault_videos_total",
		Help: "Number of videos currently in the catalog index",
	})
	cacheHitsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vault_cache_hits_total",
		Help: "Total number of metadata cache hits",
	})
	cacheMissesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vault_cache_misses_total",
		Help: "Total number of metadata cache misses",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		uploadsTotal,
		streamsTotal,
		streamBytesTotal,
		streamDuration,
		activeStreams,
		videosTotal,
		cacheHitsTotal,
		cacheMissesTotal,
	)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		errorsTotal:      errorsTotal,
		uploadsTotal:     uploadsTotal,
		streamsTotal:     streamsTotal,
		streamBytesTotal: streamBytesTotal,
		streamDuration:   streamDuration,
		activeStreams:    activeStreams,
		videosTotal:      videosTotal,
		cacheHitsTotal:   cacheHitsTotal,
		cacheMissesTotal: cacheMissesTotal,
	}
}

// IncRequests increments the request counter for the response status class
// ("2xx", "3xx", "4xx", "5xx").
func (m *Metrics) IncRequests(status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncUploads increments the uploads counter.
func (m *Metrics) IncUploads() {
	if m == nil {
		return
	}
	m.uploadsTotal.Inc()
}

// IncStreams increments the stream counter for the given outcome
// ("success", "forbidden", "not_found", "upstream_error", "interrupted").
func (m *Metrics) IncStreams(status string) {
	if m == nil {
		return
	}
	m.streamsTotal.WithLabelValues(status).Inc()
}

// AddStreamBytes adds n to the relayed-bytes counter.
func (m *Metrics) AddStreamBytes(n int64) {
	if m == nil {
		return
	}
	m.streamBytesTotal.Add(float64(n))
}

// ObserveStreamDuration records the duration of a completed stream relay.
func (m *Metrics) ObserveStreamDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.streamDuration.Observe(d.Seconds())
}

// IncActiveStreams increments the in-progress stream gauge.
func (m *Metrics) IncActiveStreams() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

// DecActiveStreams decrements the in-progress stream gauge.
func (m *Metrics) DecActiveStreams() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

// SetVideosTotal sets the catalog size gauge.
func (m *Metrics) SetVideosTotal(n int) {
	if m == nil {
		return
	}
	m.videosTotal.Set(float64(n))
}

// IncCacheHits increments the metadata cache hit counter.
func (m *Metrics) IncCacheHits() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}

// IncCacheMisses increments the metadata cache miss counter.
func (m *Metrics) IncCacheMisses() {
	if m == nil {
		return
	}
	m.cacheMissesTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. catalog size).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
