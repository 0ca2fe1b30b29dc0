package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics 业务指标
type Metrics struct {
	transitions *prometheus.CounterVec
	ledgerTxs   *prometheus.CounterVec
}

// NewMetrics 创建并注册业务指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scm",
			Name:      "state_transitions_total",
			Help:      "Committed state transitions by entity type and target status.",
		}, []string{"entity", "status"}),
		ledgerTxs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scm",
			Name:      "ledger_transactions_total",
			Help:      "Ledger transactions appended by operation.",
		}, []string{"operation"}),
	}
	reg.MustRegister(m.transitions, m.ledgerTxs)
	return m
}

func (m *Metrics) observeTransition(entity, status string) {
	if m == nil || status == "" {
		return
	}
	m.transitions.WithLabelValues(entity, status).Inc()
}

func (m *Metrics) observeLedgerTx(op string) {
	if m == nil {
		return
	}
	m.ledgerTxs.WithLabelValues(op).Inc()
}
