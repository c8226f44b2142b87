package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Turns          *prometheus.CounterVec
	TurnStates     *prometheus.CounterVec
	StageLatency   *prometheus.HistogramVec
	CacheLookups   *prometheus.CounterVec
	SearchCalls    *prometheus.CounterVec
	RetrievalCalls *prometheus.CounterVec
	MemoryUpdates  *prometheus.CounterVec
}

// NewMetrics registers the instruments with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		TurnStates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_state_total",
			Help:      "Orchestrator state entries by state.",
		}, []string{"state"}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Time spent in each orchestrator state in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"state"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Conversation cache lookups by result.",
		}, []string{"result"}),
		SearchCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_calls_total",
			Help:      "Web search calls by outcome.",
		}, []string{"outcome"}),
		RetrievalCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_calls_total",
			Help:      "Document retrieval calls by outcome.",
		}, []string{"outcome"}),
		MemoryUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_updates_total",
			Help:      "Profile memory updates by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncState(state string) {
	if m == nil {
		return
	}
	m.TurnStates.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveStage(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(state).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) IncTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IncSearch(outcome string) {
	if m == nil {
		return
	}
	m.SearchCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRetrieval(outcome string) {
	if m == nil {
		return
	}
	m.RetrievalCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncMemoryUpdate(outcome string) {
	if m == nil {
		return
	}
	m.MemoryUpdates.WithLabelValues(outcome).Inc()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
