package httpapi

import (
	"net/http"
	"time"

	"txrelay/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relayer's Prometheus collectors on a private registry. It
// satisfies application.TrackerObserver.
type Metrics struct {
	registry       *prometheus.Registry
	forwards       *prometheus.CounterVec
	forwardLatency prometheus.Histogram
	submitted      prometheus.Counter
	transitions    *prometheus.CounterVec
	overdue        prometheus.Counter
	reconcileFails prometheus.Counter
	startTime      prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txrelay",
			Name:      "rpc_forwards_total",
			Help:      "JSON-RPC calls forwarded upstream, by outcome",
		}, []string{"outcome"}),
		forwardLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txrelay",
			Name:      "rpc_forward_duration_seconds",
			Help:      "Latency of forwarded JSON-RPC calls",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 13),
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txrelay",
			Name:      "transactions_submitted_total",
			Help:      "Transactions relayed and recorded as submitted",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txrelay",
			Name:      "transaction_status_changes_total",
			Help:      "Recorded transaction status changes",
		}, []string{"from", "to"}),
		overdue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txrelay",
			Name:      "transactions_overdue_total",
			Help:      "Reconcile passes that found a transaction past its expected mining time",
		}),
		reconcileFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txrelay",
			Name:      "reconcile_failures_total",
			Help:      "Records a reconcile pass could not bring up to date",
		}),
		startTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txrelay",
			Name:      "start_time_seconds",
			Help:      "Unix time the process started",
		}),
	}
	m.startTime.Set(float64(time.Now().Unix()))
	m.registry.MustRegister(
		m.forwards,
		m.forwardLatency,
		m.submitted,
		m.transitions,
		m.overdue,
		m.reconcileFails,
		m.startTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveForward records one proxied call. An empty kind means success.
func (m *Metrics) ObserveForward(kind string, elapsed time.Duration) {
	if kind == "" {
		kind = "ok"
	}
	m.forwards.WithLabelValues(kind).Inc()
	m.forwardLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) OnSubmitted(tx *domain.Transaction) {
	m.submitted.Inc()
}

func (m *Metrics) OnStatusChanged(tx *domain.Transaction, from domain.TransactionState) {
	m.transitions.WithLabelValues(string(from), string(tx.Status())).Inc()
}

func (m *Metrics) OnOverdue(tx *domain.Transaction) {
	m.overdue.Inc()
}

func (m *Metrics) OnReconcileFailed(tx *domain.Transaction, err error) {
	m.reconcileFails.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
