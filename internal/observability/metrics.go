package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveStreams     prometheus.Gauge
	StreamEvents      *prometheus.CounterVec
	DroppedPayloads   prometheus.Counter
	RouteDecisions    *prometheus.CounterVec
	StreamFallbacks   *prometheus.CounterVec
	MinerOutcomes     *prometheus.CounterVec
	FirstDeltaLatency prometheus.Histogram

	// Stages backs the perf endpoint with exact recent quantiles.
	Stages *StageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Stages: NewStageWindow(256),
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of in-flight generation streams.",
		}),
		StreamEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Broker payloads by type.",
		}, []string{"type"}),
		DroppedPayloads: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_payloads_total",
			Help:      "Payloads dropped because a subscriber queue was full.",
		}),
		RouteDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Agent route decisions by route and reason.",
		}, []string{"route", "reason"}),
		StreamFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fallbacks_total",
			Help:      "Empty-stream fallbacks by route.",
		}, []string{"route"}),
		MinerOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "miner_outcomes_total",
			Help:      "Miner runs by miner and outcome.",
		}, []string{"miner", "outcome"}),
		FirstDeltaLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_delta_latency_ms",
			Help:      "Latency to the first assistant text delta in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 5000},
		}),
	}
}

func (m *Metrics) ObserveFirstDeltaLatency(d time.Duration) {
	m.FirstDeltaLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
