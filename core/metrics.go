package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. They register against the registry
// the caller provides; nothing here touches the global default registry.
type Metrics struct {
	Issued  prometheus.Counter
	Verify  *prometheus.CounterVec
	Consume *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Issued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "captcha_gate_tokens_issued_total",
			Help: "One-time tokens issued.",
		}),
		Verify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captcha_gate_verify_total",
			Help: "Captcha verification attempts by outcome.",
		}, []string{"outcome"}),
		Consume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captcha_gate_consume_total",
			Help: "Token redemption attempts by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Issued, m.Verify, m.Consume)
	}
	return m
}

func (m *Metrics) countVerify(outcome string) {
	if m != nil {
		m.Verify.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) countIssued() {
	if m != nil {
		m.Issued.Inc()
	}
}

func (m *Metrics) countConsume(result string) {
	if m != nil {
		m.Consume.WithLabelValues(result).Inc()
	}
}
