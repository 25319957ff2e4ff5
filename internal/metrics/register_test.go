package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "test_total",
		Help:      "Test counter.",
	}, []string{"reason"})
}

func TestRegisterReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := Register(reg, newCounter())
	require.NoError(t, err)
	second, err := Register(reg, newCounter())
	require.NoError(t, err)

	second.WithLabelValues("stale").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(first.WithLabelValues("stale")))
}

func TestRegisterConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := Register(reg, newCounter())
	require.NoError(t, err)

	conflicting := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "test_total",
		Help:      "Different help.",
	})
	_, err = Register(reg, conflicting)
	assert.Error(t, err)
}
