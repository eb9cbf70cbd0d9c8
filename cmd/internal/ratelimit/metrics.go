package ratelimit

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeAllowed  = "allowed"
	outcomeDenied   = "denied"
	outcomeFailOpen = "fail_open"
)

// Metrics counts limiter decisions per action. A nil *Metrics is a no-op.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the limiter counters on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bytehack",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limiter decisions by action and outcome.",
		}, []string{"action", "outcome"}),
	}
	if reg != nil {
		if err := reg.Register(m.decisions); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(action, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(action, outcome).Inc()
}
