package stream

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xiaot623/gogo/runstream/internal/metrics"
)

// Metrics exports stream client counters.
type Metrics struct {
	reconnects prometheus.Counter
	records    prometheus.Counter
}

// NewMetrics registers the stream collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	reconnects, err := metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts made by stream clients.",
	}))
	if err != nil {
		return nil, err
	}
	records, err := metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "stream",
		Name:      "records_total",
		Help:      "Raw records received by stream clients.",
	}))
	if err != nil {
		return nil, err
	}
	return &Metrics{reconnects: reconnects, records: records}, nil
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

func (m *Metrics) reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) record() {
	if m != nil {
		m.records.Inc()
	}
}
