package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AuthMetrics counts authentication and administration outcomes.
// A nil *AuthMetrics is valid and records nothing.
type AuthMetrics struct {
	events   *prometheus.CounterVec
	lockouts prometheus.Counter
	verify   prometheus.Histogram
}

// NewAuthMetrics creates the collectors and registers them with reg.
// A nil reg registers with the default registry.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &AuthMetrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idgate_auth_events_total",
				Help: "Identity operations by outcome.",
			},
			[]string{"operation", "result"},
		),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idgate_account_lockouts_total",
			Help: "Accounts locked after repeated login failures.",
		}),
		verify: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "idgate_password_verify_seconds",
			Help:    "Password hash verification latency in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}
	for _, c := range []prometheus.Collector{m.events, m.lockouts, m.verify} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *AuthMetrics) Observe(operation, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(operation, result).Inc()
}

func (m *AuthMetrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *AuthMetrics) ObserveVerify(d time.Duration) {
	if m == nil {
		return
	}
	m.verify.Observe(d.Seconds())
}
