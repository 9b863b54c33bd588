package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestHolderInitRegistersInstrumentsAndTracksState(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	m := &Holder{
		positionsByStatus: make(map[string]int64),
		healthFactorMap:   make(map[string]float64),
		netAPYMap:         make(map[string]float64),
	}

	err := m.Init(mp.Meter("test"))
	assert.NoError(t, err)

	m.SetPositionsByStatus("open", 3)
	m.SetHealthFactor("pos-1", 1.8)
	m.SetNetAPY("pos-1", 12.5)

	assert.Equal(t, int64(3), m.positionsByStatus["open"])
	assert.Equal(t, 1.8, m.healthFactorMap["pos-1"])
	assert.Equal(t, 12.5, m.netAPYMap["pos-1"])

	m.ClearPosition("pos-1")
	_, ok := m.healthFactorMap["pos-1"]
	assert.False(t, ok)
}

func TestGetGlobalMetricsIsSingleton(t *testing.T) {
	a := GetGlobalMetrics()
	b := GetGlobalMetrics()
	assert.Same(t, a, b)
}
