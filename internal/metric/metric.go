// Package metric exposes Prometheus instrumentation for live graphs and
// credentialed streams.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamgrid"

// Metrics holds every collector the application updates. A nil *Metrics is
// valid and records nothing, which keeps instrumentation optional in tests.
type Metrics struct {
	SessionsAcquired  *prometheus.CounterVec
	Renewals          *prometheus.CounterVec
	HotSwaps          prometheus.Counter
	Restarts          prometheus.Counter
	Teardowns         prometheus.Counter
	ActiveStreams     prometheus.Gauge
	SessionTTLSeconds prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		SessionsAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_acquired_total",
			Help:      "Initial stream session acquisitions by outcome.",
		}, []string{"outcome"}),
		Renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_renewals_total",
			Help:      "Stream session renewals by outcome.",
		}, []string{"outcome"}),
		HotSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_hot_swaps_total",
			Help:      "Transport nodes replaced under a live decoder.",
		}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_healing_restarts_total",
			Help:      "Sub-graphs rebuilt after a fatal failure.",
		}),
		Teardowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_teardowns_total",
			Help:      "Graphs torn down after an unrecoverable failure.",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Credentialed streams currently holding a session.",
		}),
		SessionTTLSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_ttl_seconds",
			Help:      "Remaining lifetime of sessions at the moment they were received.",
			Buckets:   []float64{30, 60, 120, 300, 600, 1800, 3600},
		}),
	}

	for _, c := range []prometheus.Collector{
		m.SessionsAcquired, m.Renewals, m.HotSwaps, m.Restarts,
		m.Teardowns, m.ActiveStreams, m.SessionTTLSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewRegistry returns a registry with the Go runtime and process collectors
// already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Metrics) AcquireSucceeded(ttlSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsAcquired.WithLabelValues("success").Inc()
	m.SessionTTLSeconds.Observe(ttlSeconds)
	m.ActiveStreams.Inc()
}

func (m *Metrics) AcquireFailed() {
	if m == nil {
		return
	}
	m.SessionsAcquired.WithLabelValues("failure").Inc()
}

func (m *Metrics) RenewalSucceeded(ttlSeconds float64) {
	if m == nil {
		return
	}
	m.Renewals.WithLabelValues("success").Inc()
	m.SessionTTLSeconds.Observe(ttlSeconds)
}

func (m *Metrics) RenewalFailed() {
	if m == nil {
		return
	}
	m.Renewals.WithLabelValues("failure").Inc()
}

func (m *Metrics) HotSwapped() {
	if m == nil {
		return
	}
	m.HotSwaps.Inc()
}

func (m *Metrics) Restarted() {
	if m == nil {
		return
	}
	m.Restarts.Inc()
}

func (m *Metrics) TornDown() {
	if m == nil {
		return
	}
	m.Teardowns.Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *Metrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}
