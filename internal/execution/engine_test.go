package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/kerr"
	"fundingkeeper/internal/logging"
	"fundingkeeper/internal/venuetest"
)

func testPlan() core.ExecutionPlan {
	return core.ExecutionPlan{
		ID: "plan-1",
		LongOrder: core.OrderLeg{
			Venue: "venueA", Symbol: "ETH-PERP", Side: core.SideLong,
			Type: core.OrderTypeLimit, Size: decimal.NewFromFloat(1), LimitPrice: core.PriceFromFloat(3000), TIF: core.TIFGTC,
		},
		ShortOrder: core.OrderLeg{
			Venue: "venueB", Symbol: "ETH-PERP", Side: core.SideShort,
			Type: core.OrderTypeLimit, Size: decimal.NewFromFloat(1), LimitPrice: core.PriceFromFloat(3000), TIF: core.TIFGTC,
		},
	}
}

func TestOpenBothLegsFillPromotesToOpen(t *testing.T) {
	long := venuetest.New("venueA")
	short := venuetest.New("venueB")
	eng := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": long, "venueB": short}, logging.NewNop())

	result, err := eng.Open(context.Background(), testPlan())
	require.NoError(t, err)
	assert.Equal(t, StateOpen, result.State)
	require.Len(t, result.Positions, 2)
	assert.Nil(t, result.Incident)
	assert.True(t, result.DriftOK)
}

func TestOpenHangingLegFlattensAfterPartialTimeout(t *testing.T) {
	long := venuetest.New("venueA")
	short := venuetest.New("venueB").WithPlaceOrderError(kerr.New(kerr.Network, "leg rejected"))

	cfg := DefaultConfig()
	cfg.PartialTimeout = 30 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	eng := New(cfg, map[string]core.VenueAdapter{"venueA": long, "venueB": short}, logging.NewNop())

	result, err := eng.Open(context.Background(), testPlan())
	require.Error(t, err)
	assert.Equal(t, kerr.SingleLegHanging, kerr.KindOf(err))
	assert.Equal(t, StateIdle, result.State)
	require.NotNil(t, result.Incident)
	assert.Equal(t, "venueA", result.Incident.FilledVenue)
	assert.Equal(t, "venueB", result.Incident.HangingVenue)
	assert.NotNil(t, result.Incident.ResolvedAt)
}

func TestOpenBothLegsFailReturnsFatal(t *testing.T) {
	long := venuetest.New("venueA").WithPlaceOrderError(kerr.New(kerr.Network, "down"))
	short := venuetest.New("venueB").WithPlaceOrderError(kerr.New(kerr.Network, "down"))
	eng := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": long, "venueB": short}, logging.NewNop())

	result, err := eng.Open(context.Background(), testPlan())
	require.Error(t, err)
	assert.Equal(t, kerr.Fatal, kerr.KindOf(err))
	assert.Equal(t, StateFailed, result.State)
}

// rateLimitOnceAdapter fails its first PlaceOrder call with RateLimited, then
// delegates to the embedded fake so the second call succeeds, exercising
// submitLeg's wait-then-retry-once path.
type rateLimitOnceAdapter struct {
	*venuetest.Adapter
	calls int
}

func (a *rateLimitOnceAdapter) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderAck, error) {
	a.calls++
	if a.calls == 1 {
		return core.OrderAck{}, kerr.New(kerr.RateLimited, "too many requests")
	}
	return a.Adapter.PlaceOrder(ctx, req)
}

func TestOpenRetriesOnceAfterRateLimitedThenFills(t *testing.T) {
	long := venuetest.New("venueA")
	short := &rateLimitOnceAdapter{Adapter: venuetest.New("venueB")}

	cfg := DefaultConfig()
	cfg.RateLimitBackoff = 5 * time.Millisecond
	eng := New(cfg, map[string]core.VenueAdapter{"venueA": long, "venueB": short}, logging.NewNop())

	result, err := eng.Open(context.Background(), testPlan())
	require.NoError(t, err)
	assert.Equal(t, StateOpen, result.State)
	assert.Equal(t, 2, short.calls)
}

func TestCloseBothLegsFillReturnsClosed(t *testing.T) {
	long := venuetest.New("venueA")
	short := venuetest.New("venueB")
	eng := New(DefaultConfig(), map[string]core.VenueAdapter{"venueA": long, "venueB": short}, logging.NewNop())

	positions := []core.Position{
		{ID: "p1", Venue: "venueA", Symbol: "ETH-PERP", Side: core.SideLong, Size: decimal.NewFromFloat(1), Status: core.PositionOpen},
		{ID: "p2", Venue: "venueB", Symbol: "ETH-PERP", Side: core.SideShort, Size: decimal.NewFromFloat(1), Status: core.PositionOpen},
	}
	result, err := eng.Close(context.Background(), "plan-1", positions)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, result.State)
	require.Len(t, result.Positions, 2)
	assert.Equal(t, core.PositionClosed, result.Positions[0].Status)
}

func TestWithinDriftRejectsLargeMismatch(t *testing.T) {
	assert.True(t, withinDrift(decimal.NewFromFloat(100), decimal.NewFromFloat(101), DefaultDriftLimit))
	assert.False(t, withinDrift(decimal.NewFromFloat(100), decimal.NewFromFloat(130), DefaultDriftLimit))
}
