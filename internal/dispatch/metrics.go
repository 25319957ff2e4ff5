package dispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xiaot623/gogo/runstream/internal/metrics"
)

// Metrics exports dispatcher counters.
type Metrics struct {
	accepted prometheus.Counter
	rejected *prometheus.CounterVec
}

// NewMetrics registers the dispatcher collectors with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	accepted, err := metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "dispatch",
		Name:      "accepted_total",
		Help:      "Records applied to a run aggregator.",
	}))
	if err != nil {
		return nil, err
	}
	rejected, err := metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "dispatch",
		Name:      "rejected_total",
		Help:      "Records dropped by the dispatcher, by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}
	return &Metrics{accepted: accepted, rejected: rejected}, nil
}

// MustNewMetrics is like NewMetrics but panics on error.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics returns collectors registered with the default registerer.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func (m *Metrics) accept() {
	if m != nil {
		m.accepted.Inc()
	}
}

func (m *Metrics) reject(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}
