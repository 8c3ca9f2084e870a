package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DegradedTotal counts every degraded path taken.
	// Labels: component (embeddings, llm, retrieval, reflection), reason
	DegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mazemind",
			Subsystem: "provider",
			Name:      "degraded_total",
			Help:      "Total number of degraded-mode results by component and reason",
		},
		[]string{"component", "reason"},
	)

	// CallsTotal counts provider calls.
	// Labels: kind (embedding, llm), provider, result (success, error)
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mazemind",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total number of provider calls by result",
		},
		[]string{"kind", "provider", "result"},
	)

	// Available reports provider availability (1=available, 0=unavailable).
	// Labels: kind, provider
	Available = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mazemind",
			Subsystem: "provider",
			Name:      "available",
			Help:      "Provider availability from the last health probe or call",
		},
		[]string{"kind", "provider"},
	)

	// FailoversTotal counts active-provider switches.
	// Labels: kind, from, to
	FailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mazemind",
			Subsystem: "provider",
			Name:      "failovers_total",
			Help:      "Total number of active provider switches",
		},
		[]string{"kind", "from", "to"},
	)
)

// ObserveCall records a call outcome in the Prometheus counters.
func ObserveCall(kind, name string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	CallsTotal.WithLabelValues(kind, name, result).Inc()
}

// ObserveAvailability mirrors availability into the gauge.
func ObserveAvailability(kind, name string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	Available.WithLabelValues(kind, name).Set(v)
}
