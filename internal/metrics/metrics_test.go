package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestTotals(t *testing.T) {
	m, err := NewWithMeter(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	m.FixedStep()
	m.FixedStep()
	m.CatchUp(3)
	m.Hit("slash")
	m.LerpMiss("no data")
	m.SetPlayers(2)

	assert.Equal(t, Totals{
		FixedSteps:   2,
		CatchUpTicks: 1,
		Hits:         1,
		LerpMisses:   1,
		Players:      2,
	}, m.Totals())
}

func TestNewUsesGlobalProvider(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.FixedStep()
	assert.Equal(t, int64(1), m.Totals().FixedSteps)
}
