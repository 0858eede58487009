// Package metrics exposes Prometheus metrics for the settlement service.
//
// A Collector owns its registry so tests and multiple instances never share
// global state. All Record methods are safe on a nil *Collector.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "settlement"

// Collector holds the service's metric vectors.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	PaymentsTotal       *prometheus.CounterVec
	ProcessingDuration  *prometheus.HistogramVec
	GatewayDecisions    *prometheus.CounterVec
	EventPublishErrors  prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a Collector with its own registry. An empty namespace uses
// DefaultNamespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()

	c := &Collector{
		namespace: namespace,
		registry:  reg,

		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_processed_total",
			Help:      "Payment requests by final status and error kind.",
		}, []string{"status", "error_kind"}),

		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_processing_duration_seconds",
			Help:      "End-to-end processing time of payment requests.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5, 10},
		}, []string{"status"}),

		GatewayDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_decisions_total",
			Help:      "Simulated gateway answers by result.",
		}, []string{"result"}),

		EventPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Payment events that could not be published.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.PaymentsTotal,
		c.ProcessingDuration,
		c.GatewayDecisions,
		c.EventPublishErrors,
		c.HTTPRequestsTotal,
		c.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Gauge registers a gauge whose value is read from fn at scrape time.
func (c *Collector) Gauge(name, help string, fn func() float64) {
	if c == nil {
		return
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// RecordPayment counts one processed request.
func (c *Collector) RecordPayment(status, errorKind string, took time.Duration) {
	if c == nil {
		return
	}
	c.PaymentsTotal.WithLabelValues(status, errorKind).Inc()
	c.ProcessingDuration.WithLabelValues(status).Observe(took.Seconds())
}

// RecordDecision counts one gateway answer.
func (c *Collector) RecordDecision(result string) {
	if c == nil {
		return
	}
	c.GatewayDecisions.WithLabelValues(result).Inc()
}

// RecordPublishError counts one undelivered event.
func (c *Collector) RecordPublishError() {
	if c == nil {
		return
	}
	c.EventPublishErrors.Inc()
}

// RecordHTTP counts one served request. route is the route pattern, not the
// raw path, so label cardinality stays bounded.
func (c *Collector) RecordHTTP(method, route string, code int, took time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
