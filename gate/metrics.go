package gate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision outcomes recorded by Metrics.
const (
	outcomeAdmitted      = "admitted"      // session already carried an identity
	outcomeAuthenticated = "authenticated" // credential verified during this request
	outcomeRedirected    = "redirected"    // sent to the authorization endpoint
	outcomeUnauthorized  = "unauthorized"  // 401 written
	outcomeDenied        = "denied"        // callback rejected
	outcomeError         = "error"         // internal failure
)

// Metrics records gate decisions. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics registers the gate metrics with reg (the default registerer
// when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authgate",
			Name:      "decisions_total",
			Help:      "Gate decisions by outcome",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "authgate",
			Name:      "decision_duration_seconds",
			Help:      "Time from request interception to gate decision",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observe(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}
