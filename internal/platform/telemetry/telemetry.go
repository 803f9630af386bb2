// Package telemetry exposes Prometheus metrics for the API and the
// treatment refresher.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	requests     *prometheus.HistogramVec
	projections  prometheus.Counter
	messages     *prometheus.CounterVec
	upstreamErrs *prometheus.CounterVec
	subscribers  prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medpod",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		projections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medpod",
			Name:      "treatment_projections_total",
			Help:      "Dosage projections computed.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medpod",
			Name:      "messages_sent_total",
			Help:      "Send attempts by outcome (sent, rejected, failed).",
		}, []string{"outcome"}),
		upstreamErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medpod",
			Name:      "upstream_errors_total",
			Help:      "Failed calls to the hosted store or the message endpoint.",
		}, []string{"op"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "medpod",
			Name:      "treatment_stream_subscribers",
			Help:      "Open treatment-plan stream connections.",
		}),
	}
	reg.MustRegister(
		m.requests, m.projections, m.messages, m.upstreamErrs, m.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ProjectionComputed() {
	if m != nil {
		m.projections.Inc()
	}
}

func (m *Metrics) MessageOutcome(outcome string) {
	if m != nil {
		m.messages.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) UpstreamError(op string) {
	if m != nil {
		m.upstreamErrs.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SetSubscribers(n int) {
	if m != nil {
		m.subscribers.Set(float64(n))
	}
}

// Middleware records request latency. The route label is the registered
// path pattern, so ids don't explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.requests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
}
