package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Histogram: gateway HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"path", "method", "status_code"},
	)

	// Cache outcome counters, labeled by dataset tier (odds, matches, ...).
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits.",
		},
		[]string{"tier"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses.",
		},
		[]string{"tier"},
	)
	CacheStaleServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_stale_served_total",
			Help: "Reads served from the stale window while a refresh ran.",
		},
		[]string{"tier"},
	)

	// Gauge: coalescer in-flight slots.
	CoalescerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coalescer_active",
			Help: "Number of keys with an upstream fetch currently in flight.",
		},
	)

	// Worker pool gauges.
	WorkerPoolActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_active",
			Help: "Number of worker slots currently fetching odds.",
		},
	)
	WorkerPoolQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_queued",
			Help: "Number of entries waiting in the odds fetch queue.",
		},
	)

	// Odds tier tick accounting. A persistently high skip rate means the
	// hot set is draining slower than the tick interval.
	OddsTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "odds_ticks_total",
			Help: "Total number of odds tier timer firings.",
		},
	)
	OddsTicksSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "odds_ticks_skipped_total",
			Help: "Odds ticks skipped because the previous tick had not drained.",
		},
	)

	// Histogram: upstream provider call latency.
	UpstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream provider calls in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
		[]string{"endpoint", "outcome"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		GatewayLatencySeconds,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheStaleServedTotal,
		CoalescerActive,
		WorkerPoolActive,
		WorkerPoolQueued,
		OddsTicksTotal,
		OddsTicksSkippedTotal,
		UpstreamLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()

		GatewayLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
