package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingkeeper/internal/config"
	"fundingkeeper/internal/core"
)

func samplePosition(id string) core.Position {
	return core.Position{
		ID: id, StrategyID: "plan-1", Venue: "venueA", Symbol: "ETH-PERP",
		Side: core.SideLong, Size: decimal.NewFromFloat(1),
		EntryPrice: core.PriceFromFloat(3000), OpenedAt: time.Now(), Status: core.PositionOpen,
	}
}

func TestMemoryStoreRoundTripsPositions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.UpsertPosition(ctx, samplePosition("p1")))

	got, err := m.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)

	require.NoError(t, m.DeletePosition(ctx, "p1"))
	got, err = m.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreIncidentLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	inc := core.SingleLegIncident{ID: "i1", PlanID: "plan-1", RaisedAt: time.Now()}
	require.NoError(t, m.SaveIncident(ctx, inc))

	open, err := m.ListOpenIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, m.ResolveIncident(ctx, "i1", time.Now()))
	open, err = m.ListOpenIncidents(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	f, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, f.UpsertPosition(ctx, samplePosition("p1")))

	reloaded, err := NewFile(path)
	require.NoError(t, err)
	got, err := reloaded.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}

func TestNewDispatchesOnStorageType(t *testing.T) {
	ctx := context.Background()

	s, err := New(config.StorageConfig{Type: "memory"})
	require.NoError(t, err)
	_, ok := s.(*Memory)
	assert.True(t, ok)

	path := filepath.Join(t.TempDir(), "state.json")
	s, err = New(config.StorageConfig{Type: "file", DSN: path})
	require.NoError(t, err)
	_, ok = s.(*File)
	assert.True(t, ok)
	require.NoError(t, s.UpsertPosition(ctx, samplePosition("p1")))

	_, err = New(config.StorageConfig{Type: "bogus"})
	assert.Error(t, err)
}
