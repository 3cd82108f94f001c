// Package metrics exposes Prometheus collectors for the engine.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rover"

// Metrics holds the engine collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	items          *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	dispatches     *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec
	dispatchTime   *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	updates        *prometheus.CounterVec
	ticks          prometheus.Counter
	tickTime       prometheus.Histogram
	compacted      *prometheus.CounterVec
}

// New creates the collectors in a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items read from each stream.",
		}, []string{"stream"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items read but not yet dispatched.",
		}, []string{"stream"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatch results per handler.",
		}, []string{"handler", "result"}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Dispatch errors per handler and code.",
		}, []string{"handler", "code"}),
		dispatchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in a handler's reaction, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried handler calls.",
		}, []string{"handler"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Deferred update callbacks per handler and result.",
		}, []string{"handler", "result"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Completed scheduler ticks.",
		}),
		tickTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Duration of scheduler ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		compacted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compacted_rows_total",
			Help:      "Rows removed by retention compaction.",
		}, []string{"table"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.items, m.queueDepth, m.dispatches, m.dispatchErrors, m.dispatchTime,
		m.retries, m.updates, m.ticks, m.tickTime, m.compacted,
	)
	return m
}

// Registry returns the registry the collectors are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ItemRead(stream string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(stream).Inc()
}

func (m *Metrics) QueueDepth(stream string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(stream).Set(float64(n))
}

// Dispatched records the result of offering an item to a handler: an
// outcome, a skip reason or "error".
func (m *Metrics) Dispatched(handler, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(handler, result).Inc()
	if took > 0 {
		m.dispatchTime.WithLabelValues(handler).Observe(took.Seconds())
	}
}

func (m *Metrics) DispatchError(handler, code string) {
	if m == nil {
		return
	}
	m.dispatchErrors.WithLabelValues(handler, code).Inc()
}

func (m *Metrics) Retried(handler string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(handler).Inc()
}

func (m *Metrics) Updated(handler, result string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(handler, result).Inc()
}

func (m *Metrics) Tick(took time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickTime.Observe(took.Seconds())
}

func (m *Metrics) Compacted(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.compacted.WithLabelValues(table).Add(float64(n))
}
