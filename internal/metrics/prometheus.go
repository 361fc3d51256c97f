// Package metrics exposes bus lifecycle events as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/oriys/taskbus/internal/bus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver implements bus.Observer by feeding every lifecycle
// callback into a dedicated Prometheus registry, labeled by kind.
type PrometheusObserver struct {
	registry *prometheus.Registry

	putTotal      *prometheus.CounterVec
	deliverTotal  *prometheus.CounterVec
	ackTotal      *prometheus.CounterVec
	nackTotal     *prometheus.CounterVec
	promotedTotal *prometheus.CounterVec
	attempt       *prometheus.HistogramVec
}

// NewPrometheusObserver constructs a PrometheusObserver registered under
// namespace. It also registers the standard Go runtime and process
// collectors, as is conventional for a service's primary registry.
func NewPrometheusObserver(namespace string) *PrometheusObserver {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	o := &PrometheusObserver{
		registry: registry,
		putTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "put_total",
				Help:      "Total number of messages submitted, by kind.",
			},
			[]string{"kind"},
		),
		deliverTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliver_total",
				Help:      "Total number of deliveries handed to a consumer, by kind.",
			},
			[]string{"kind"},
		),
		ackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ack_total",
				Help:      "Total number of acknowledged messages, by kind.",
			},
			[]string{"kind"},
		),
		nackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nack_total",
				Help:      "Total number of negatively acknowledged messages, by kind.",
			},
			[]string{"kind"},
		),
		promotedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "promoted_total",
				Help:      "Total number of entries moved from delayed/unacked into enqueued, by kind.",
			},
			[]string{"kind"},
		),
		attempt: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_attempt",
				Help:      "Distribution of delivery attempt numbers, by kind.",
				Buckets:   []float64{1, 2, 3, 4, 5, 8, 13, 21},
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		o.putTotal,
		o.deliverTotal,
		o.ackTotal,
		o.nackTotal,
		o.promotedTotal,
		o.attempt,
	)

	return o
}

// OnPut implements bus.Observer.
func (o *PrometheusObserver) OnPut(kind bus.Kind, _ bus.ID) {
	o.putTotal.WithLabelValues(kind).Inc()
}

// OnDeliver implements bus.Observer.
func (o *PrometheusObserver) OnDeliver(kind bus.Kind, _ bus.ID, attempt int) {
	o.deliverTotal.WithLabelValues(kind).Inc()
	o.attempt.WithLabelValues(kind).Observe(float64(attempt))
}

// OnAck implements bus.Observer.
func (o *PrometheusObserver) OnAck(kind bus.Kind, _ bus.ID) {
	o.ackTotal.WithLabelValues(kind).Inc()
}

// OnNack implements bus.Observer.
func (o *PrometheusObserver) OnNack(kind bus.Kind, _ bus.ID) {
	o.nackTotal.WithLabelValues(kind).Inc()
}

// OnPromote implements bus.Observer.
func (o *PrometheusObserver) OnPromote(kind bus.Kind, n int) {
	o.promotedTotal.WithLabelValues(kind).Add(float64(n))
}

// Handler returns an HTTP handler serving this observer's registry in the
// Prometheus exposition format.
func (o *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for registering additional
// custom collectors alongside the bus metrics.
func (o *PrometheusObserver) Registry() *prometheus.Registry {
	return o.registry
}

var _ bus.Observer = (*PrometheusObserver)(nil)
