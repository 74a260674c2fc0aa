package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus registry and every collector the service
// exports. Metric names are part of the operational contract: dashboards
// and alerts scrape them by name.
type Metrics struct {
	registry  *prometheus.Registry
	startTime time.Time

	// Read path.
	ResolveRequests         prometheus.Counter
	ResolveCacheHit         prometheus.Counter
	ResolveCacheMiss        prometheus.Counter
	ResolveNegativeCacheHit prometheus.Counter
	ResolveLatency          prometheus.Histogram

	// Write path.
	WriteRequests prometheus.Counter
	WriteSuccess  prometheus.Counter
	WriteFailure  prometheus.Counter
	WriteLatency  prometheus.Histogram

	// Event publication, labeled by action.
	KafkaEventsPublished *prometheus.CounterVec
	KafkaEventsFailed    *prometheus.CounterVec

	// Database.
	DBQueries          prometheus.Counter
	DBConnectionErrors prometheus.Counter

	// HTTP surface.
	APIRequests        *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Correlation tracking.
	CorrelationIDsGenerated prometheus.Counter
	CorrelationIDsProvided  prometheus.Counter

	// Gauges, refreshed by the background sampler.
	DBPoolSize         prometheus.Gauge
	DBPoolAvailable    prometheus.Gauge
	DBPoolInUse        prometheus.Gauge
	CacheConnected     prometheus.Gauge
	KafkaProducerReady prometheus.Gauge
	ApplicationUptime  prometheus.Gauge
}

// NewMetrics constructs a Metrics with its own registry so tests can hold
// independent instances.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry:  registry,
		startTime: time.Now(),

		ResolveRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "resolve_requests_total",
			Help: "Total number of resolve requests",
		}),
		ResolveCacheHit: factory.NewCounter(prometheus.CounterOpts{
			Name: "resolve_cache_hit_total",
			Help: "Total cache hits",
		}),
		ResolveCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Name: "resolve_cache_miss_total",
			Help: "Total cache misses",
		}),
		ResolveNegativeCacheHit: factory.NewCounter(prometheus.CounterOpts{
			Name: "resolve_negative_cache_hit_total",
			Help: "Total negative cache hits",
		}),
		ResolveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "resolve_latency_seconds",
			Help: "Latency of resolve requests",
		}),

		WriteRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "write_requests_total",
			Help: "Total number of write requests",
		}),
		WriteSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "write_success_total",
			Help: "Total successful write operations",
		}),
		WriteFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "write_failure_total",
			Help: "Total failed write operations",
		}),
		WriteLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "write_latency_seconds",
			Help: "Latency of write operations",
		}),

		KafkaEventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_events_published_total",
			Help: "Total number of events published to Kafka",
		}, []string{"action"}),
		KafkaEventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_events_failed_total",
			Help: "Total number of failed Kafka event publications",
		}, []string{"action"}),

		DBQueries: factory.NewCounter(prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries executed",
		}),
		DBConnectionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "db_connection_errors_total",
			Help: "Total number of database connection errors",
		}),

		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		}, []string{"method", "endpoint", "status_code"}),
		APIRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "api_request_duration_seconds",
			Help: "Duration of API requests in seconds",
		}, []string{"method", "endpoint"}),

		CorrelationIDsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "correlation_ids_generated_total",
			Help: "Correlation IDs generated for requests without one",
		}),
		CorrelationIDsProvided: factory.NewCounter(prometheus.CounterOpts{
			Name: "correlation_ids_provided_total",
			Help: "Correlation IDs supplied by clients",
		}),

		DBPoolSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_size",
			Help: "Current number of connections in the database pool",
		}),
		DBPoolAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_available",
			Help: "Number of available connections in the database pool",
		}),
		DBPoolInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_in_use",
			Help: "Number of connections currently in use",
		}),
		CacheConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cache_connected",
			Help: "Whether Redis cache is connected (1) or not (0)",
		}),
		KafkaProducerReady: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kafka_producer_ready",
			Help: "Whether Kafka producer is ready (1) or not (0)",
		}),
		ApplicationUptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "application_uptime_seconds",
			Help: "Number of seconds the application has been running",
		}),
	}
}

// Handler returns the /metrics exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Uptime reports seconds since the Metrics was constructed.
func (m *Metrics) Uptime() float64 {
	return time.Since(m.startTime).Seconds()
}
