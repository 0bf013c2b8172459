package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the service's prometheus collectors.
type Registry struct {
	registry                   *prometheus.Registry
	ordersAdmittedTotal        prometheus.Counter
	pipelineOutcomesTotal      *prometheus.CounterVec
	fillEventsTotal            *prometheus.CounterVec
	competitionsFinalizedTotal *prometheus.CounterVec
	openCompetitions           prometheus.Gauge
}

func NewRegistry() *Registry {
	admitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "intent_orders_admitted_total",
		Help: "Total number of orders admitted for settlement",
	})

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intent_pipeline_outcomes_total",
		Help: "Terminal pipeline outcomes by status",
	}, []string{"status"})

	fillEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intent_fill_events_total",
		Help: "On-chain fill events observed by the tracker",
	}, []string{"result"})

	finalized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intent_competitions_finalized_total",
		Help: "Competitions finalized by outcome",
	}, []string{"outcome"})

	open := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intent_open_competitions",
		Help: "Number of competitions not yet finalized",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(admitted, outcomes, fillEvents, finalized, open)

	return &Registry{
		registry:                   r,
		ordersAdmittedTotal:        admitted,
		pipelineOutcomesTotal:      outcomes,
		fillEventsTotal:            fillEvents,
		competitionsFinalizedTotal: finalized,
		openCompetitions:           open,
	}
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Registry) IncAdmitted() {
	m.ordersAdmittedTotal.Inc()
}

func (m *Registry) IncPipelineOutcome(status string) {
	m.pipelineOutcomesTotal.WithLabelValues(status).Inc()
}

func (m *Registry) IncFillEvent(result string) {
	m.fillEventsTotal.WithLabelValues(result).Inc()
}

func (m *Registry) IncCompetitionFinalized(outcome string) {
	m.competitionsFinalizedTotal.WithLabelValues(outcome).Inc()
}

func (m *Registry) SetOpenCompetitions(n int) {
	m.openCompetitions.Set(float64(n))
}
