package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StageTurnTotal is the window key for whole-turn latency.
const StageTurnTotal = "turn_total"

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	Turns          *prometheus.CounterVec
	StageLatency   *prometheus.HistogramVec

	registry *prometheus.Registry
	window   *stageWindow
}

// NewMetrics registers instruments on reg. A nil reg gets a fresh registry
// that also carries the Go and process collectors.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live streaming voice sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider call failures by stage and provider.",
		}, []string{"stage", "provider"}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns by outcome.",
		}, []string{"outcome"}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Provider stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"stage"}),
		registry: reg,
		window:   newStageWindow(256),
	}
}

// ObserveStage records one successful stage call.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.window.Observe(stage, ms)
}

func (m *Metrics) ObserveProviderError(stage, provider string) {
	m.ProviderErrors.WithLabelValues(stage, provider).Inc()
}

// ObserveTurn counts a finished turn. Only completed turns feed the
// turn_total latency window.
func (m *Metrics) ObserveTurn(outcome string, total time.Duration) {
	m.Turns.WithLabelValues(outcome).Inc()
	m.window.ObserveIndicator("turn_" + outcome)
	if outcome == "completed" {
		ms := float64(total.Microseconds()) / 1000
		m.StageLatency.WithLabelValues(StageTurnTotal).Observe(ms)
		m.window.Observe(StageTurnTotal, ms)
	}
}

func (m *Metrics) ObserveSessionEvent(event string) {
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SnapshotStages returns rolling latency percentiles for /v1/perf/latency.
func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.window.Snapshot()
}

func (m *Metrics) ResetStages() {
	m.window.Reset()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
