package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set owns the service's private prometheus registry.
type Set struct {
	registry            *prometheus.Registry
	submitAttemptsTotal *prometheus.CounterVec
	escrowOpsTotal      *prometheus.CounterVec
	oracleChecksTotal   *prometheus.CounterVec
	inflightBroadcasts  prometheus.Gauge
}

func New() *Set {
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_submit_attempts_total",
		Help: "Chain submission attempts by outcome",
	}, []string{"outcome"})

	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_escrow_operations_total",
		Help: "Escrow lifecycle operations by outcome",
	}, []string{"operation", "outcome"})

	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_oracle_checks_total",
		Help: "Oracle condition evaluations by outcome",
	}, []string{"condition", "outcome"})

	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "custodia_inflight_broadcasts",
		Help: "Broadcasts currently holding the signing credential",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(attempts, ops, checks, inflight)

	return &Set{
		registry:            r,
		submitAttemptsTotal: attempts,
		escrowOpsTotal:      ops,
		oracleChecksTotal:   checks,
		inflightBroadcasts:  inflight,
	}
}

func (m *Set) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Set) IncSubmitAttempt(outcome string) {
	m.submitAttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *Set) IncEscrowOp(operation, outcome string) {
	m.escrowOpsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Set) IncOracleCheck(condition, outcome string) {
	m.oracleChecksTotal.WithLabelValues(condition, outcome).Inc()
}

func (m *Set) BroadcastStarted() { m.inflightBroadcasts.Inc() }

func (m *Set) BroadcastDone() { m.inflightBroadcasts.Dec() }
