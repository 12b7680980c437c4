// Package metrics provides Prometheus request metrics for the routekit host server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config defines which request metrics are collected and how they are named.
type Config struct {
	Registry         prometheus.Registerer // Registerer for the collectors; a private registry is created if nil
	Gatherer         prometheus.Gatherer   // Gatherer used by Handler; defaults to Registry when it is a *prometheus.Registry
	Namespace        string                // Namespace for metrics
	Subsystem        string                // Subsystem for metrics
	EnableLatency    bool                  // Enable latency metrics
	EnableThroughput bool                  // Enable throughput metrics
	EnableQPS        bool                  // Enable request count metrics
	EnableErrors     bool                  // Enable error metrics
	Buckets          []float64             // Latency buckets; prometheus.DefBuckets if empty
}

// Collector records per-route request metrics.
// Routes are labelled by their registered pattern, never by the raw URL path.
type Collector struct {
	config     Config
	gatherer   prometheus.Gatherer
	requests   *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	throughput *prometheus.CounterVec
	inFlight   prometheus.Gauge
}

// NewCollector creates the collectors enabled in config and registers them.
func NewCollector(config Config) (*Collector, error) {
	registerer := config.Registry
	gatherer := config.Gatherer
	if registerer == nil {
		reg := prometheus.NewRegistry()
		registerer = reg
		if gatherer == nil {
			gatherer = reg
		}
	}
	if gatherer == nil {
		if g, ok := registerer.(prometheus.Gatherer); ok {
			gatherer = g
		} else {
			gatherer = prometheus.DefaultGatherer
		}
	}

	c := &Collector{config: config, gatherer: gatherer}
	labels := []string{"method", "route", "status"}

	c.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "http_requests_in_flight",
		Help:      "Number of requests currently being served.",
	})
	collectors := []prometheus.Collector{c.inFlight}

	if config.EnableQPS {
		c.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of requests served.",
		}, labels)
		collectors = append(collectors, c.requests)
	}

	if config.EnableErrors {
		c.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_request_errors_total",
			Help:      "Total number of requests answered with a 4xx or 5xx status.",
		}, labels)
		collectors = append(collectors, c.errors)
	}

	if config.EnableLatency {
		buckets := config.Buckets
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		c.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Request latency in seconds.",
			Buckets:   buckets,
		}, labels)
		collectors = append(collectors, c.latency)
	}

	if config.EnableThroughput {
		c.throughput = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_response_bytes_total",
			Help:      "Total number of response body bytes written.",
		}, labels)
		collectors = append(collectors, c.throughput)
	}

	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Begin marks a request as in flight. The returned function must be called when it completes.
func (c *Collector) Begin() func() {
	c.inFlight.Inc()
	return c.inFlight.Dec
}

// Observe records a completed request.
func (c *Collector) Observe(method, route string, status, size int, duration time.Duration) {
	code := strconv.Itoa(status)

	if c.requests != nil {
		c.requests.WithLabelValues(method, route, code).Inc()
	}
	if c.errors != nil && status >= http.StatusBadRequest {
		c.errors.WithLabelValues(method, route, code).Inc()
	}
	if c.latency != nil {
		c.latency.WithLabelValues(method, route, code).Observe(duration.Seconds())
	}
	if c.throughput != nil {
		c.throughput.WithLabelValues(method, route, code).Add(float64(size))
	}
}

// Handler returns an HTTP handler exposing the collected metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
