package reconcile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/logging"
	"fundingkeeper/internal/venuetest"
)

func TestReconcileMatchesAgreeingPositions(t *testing.T) {
	venue := venuetest.New("venueA").WithPositions(core.VenuePosition{
		Symbol: "ETH-PERP", Side: core.SideLong, Size: decimal.NewFromFloat(2),
	})
	r := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": venue}, logging.NewNop())

	local := []core.Position{
		{ID: "p1", Venue: "venueA", Symbol: "ETH-PERP", Side: core.SideLong, Size: decimal.NewFromFloat(2), Status: core.PositionOpen},
	}
	out, err := r.Reconcile(context.Background(), local)
	require.NoError(t, err)
	assert.Len(t, out.Matched, 1)
	assert.Empty(t, out.Ghosts)
	assert.Empty(t, out.Strays)
	assert.Empty(t, out.Halted)
	assert.False(t, r.IsHalted())
}

func TestReconcileDropsGhostWhenVenueShowsNothing(t *testing.T) {
	venue := venuetest.New("venueA")
	r := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": venue}, logging.NewNop())

	local := []core.Position{
		{ID: "p1", Venue: "venueA", Symbol: "ETH-PERP", Side: core.SideLong, Size: decimal.NewFromFloat(2), Status: core.PositionOpen},
	}
	out, err := r.Reconcile(context.Background(), local)
	require.NoError(t, err)
	assert.Empty(t, out.Matched)
	require.Len(t, out.Ghosts, 1)
	assert.Empty(t, out.Halted)
}

func TestReconcileAutoCorrectsSmallDivergence(t *testing.T) {
	venue := venuetest.New("venueA").WithPositions(core.VenuePosition{
		Symbol: "ETH-PERP", Side: core.SideLong, Size: decimal.NewFromFloat(2.01),
	})
	r := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": venue}, logging.NewNop())

	local := []core.Position{
		{ID: "p1", Venue: "venueA", Symbol: "ETH-PERP", Side: core.SideLong, Size: decimal.NewFromFloat(2), Status: core.PositionOpen},
	}
	out, err := r.Reconcile(context.Background(), local)
	require.NoError(t, err)
	require.Len(t, out.Matched, 1)
	assert.True(t, out.Matched[0].Size.Equal(decimal.NewFromFloat(2.01)))
	assert.Empty(t, out.Halted)
	assert.False(t, r.IsHalted())
}

func TestReconcileHaltsOnLargeDivergence(t *testing.T) {
	venue := venuetest.New("venueA").WithPositions(core.VenuePosition{
		Symbol: "ETH-PERP", Side: core.SideLong, Size: decimal.NewFromFloat(5),
	})
	r := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": venue}, logging.NewNop())

	local := []core.Position{
		{ID: "p1", Venue: "venueA", Symbol: "ETH-PERP", Side: core.SideLong, Size: decimal.NewFromFloat(2), Status: core.PositionOpen},
	}
	out, err := r.Reconcile(context.Background(), local)
	require.NoError(t, err)
	assert.Empty(t, out.Matched)
	require.Len(t, out.Halted, 1)
	assert.Equal(t, "venueA", out.Halted[0].Venue)
	assert.True(t, r.IsHalted())
}

func TestReconcileAdoptsUnrecognizedVenuePositionByDefault(t *testing.T) {
	venue := venuetest.New("venueA").WithPositions(core.VenuePosition{
		Symbol: "BTC-PERP", Side: core.SideShort, Size: decimal.NewFromFloat(1),
	})
	r := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": venue}, logging.NewNop())

	out, err := r.Reconcile(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out.Strays, 1)
	assert.Equal(t, "adopted", out.Strays[0].Action)
}

func TestReconcileClosesUnrecognizedVenuePositionWhenAutoCloseEnabled(t *testing.T) {
	venue := venuetest.New("venueA").WithPositions(core.VenuePosition{
		Symbol: "BTC-PERP", Side: core.SideShort, Size: decimal.NewFromFloat(1),
	})
	cfg := DefaultConfig()
	cfg.AutoCloseUnrecognizedPositions = true
	r := New(cfg, map[string]core.VenueAdapter{"venueA": venue}, logging.NewNop())

	out, err := r.Reconcile(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out.Strays, 1)
	assert.Equal(t, "closed", out.Strays[0].Action)
}

func TestReconcileIsIdempotentOnceCorrectionsAreApplied(t *testing.T) {
	venue := venuetest.New("venueA").WithPositions(core.VenuePosition{
		Symbol: "ETH-PERP", Side: core.SideLong, Size: decimal.NewFromFloat(2),
	})
	r := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": venue}, logging.NewNop())

	local := []core.Position{
		{ID: "p1", Venue: "venueA", Symbol: "ETH-PERP", Side: core.SideLong, Size: decimal.NewFromFloat(2), Status: core.PositionOpen},
	}
	first, err := r.Reconcile(context.Background(), local)
	require.NoError(t, err)
	require.Len(t, first.Matched, 1)

	second, err := r.Reconcile(context.Background(), first.Matched)
	require.NoError(t, err)
	assert.Len(t, second.Matched, 1)
	assert.Empty(t, second.Ghosts)
	assert.Empty(t, second.Strays)
	assert.Empty(t, second.Halted)
}
