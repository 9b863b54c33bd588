package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/historicalstore"
	"fundingkeeper/internal/logging"
	"fundingkeeper/internal/venuetest"
)

func TestComputeSpreadIsShortMinusLong(t *testing.T) {
	spread := ComputeSpread(
		core.NewFundingRate(decimal.NewFromFloat(0.0001)),
		core.NewFundingRate(decimal.NewFromFloat(0.0003)),
	)
	assert.True(t, spread.Decimal().Equal(decimal.NewFromFloat(0.0002)))
}

func TestAnnualizeSpreadZeroIntervalsReturnsZero(t *testing.T) {
	apr := AnnualizeSpread(core.NewFundingRate(decimal.NewFromFloat(0.001)), 0)
	assert.True(t, apr.Decimal().IsZero())
}

// TestScanPairsLowerRateVenueAsLong checks a worked two-venue case:
// VenueA=+0.0003/8h, VenueB=+0.0001/8h, both OI=1e6, mark=3000.
// Expected pairing is long B + short A.
func TestScanPairsLowerRateVenueAsLong(t *testing.T) {
	at := time.Now()
	venueA := venuetest.New("venueA").
		WithFunding("ETH", core.NewFundingRate(decimal.NewFromFloat(0.0003)), 3).
		WithMark("ETH", core.PriceFromFloat(3000)).
		WithOpenInterest("ETH", core.AmountFromFloat(1_000_000))
	venueB := venuetest.New("venueB").
		WithFunding("ETH", core.NewFundingRate(decimal.NewFromFloat(0.0001)), 3).
		WithMark("ETH", core.PriceFromFloat(3000)).
		WithOpenInterest("ETH", core.AmountFromFloat(1_000_000))

	agg := New(DefaultConfig(), nil, historicalstore.New(historicalstore.DefaultConfig()), logging.NewNop())
	opps, err := agg.Scan(context.Background(), map[string]core.VenueAdapter{
		"venueA": venueA,
		"venueB": venueB,
	}, []string{"ETH"})
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "venueB", opp.LongVenue)
	assert.Equal(t, "venueA", opp.ShortVenue)
	assert.True(t, opp.Spread.Decimal().Equal(decimal.NewFromFloat(0.0002)))
	_ = at
}

func TestScanFiltersBelowMinSpread(t *testing.T) {
	venueA := venuetest.New("venueA").
		WithFunding("ETH", core.NewFundingRate(decimal.NewFromFloat(0.00011)), 3).
		WithMark("ETH", core.PriceFromFloat(3000)).
		WithOpenInterest("ETH", core.AmountFromFloat(1_000_000))
	venueB := venuetest.New("venueB").
		WithFunding("ETH", core.NewFundingRate(decimal.NewFromFloat(0.0001)), 3).
		WithMark("ETH", core.PriceFromFloat(3000)).
		WithOpenInterest("ETH", core.AmountFromFloat(1_000_000))

	agg := New(DefaultConfig(), nil, nil, logging.NewNop())
	opps, err := agg.Scan(context.Background(), map[string]core.VenueAdapter{
		"venueA": venueA,
		"venueB": venueB,
	}, []string{"ETH"})
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestScanFiltersMarkDivergence(t *testing.T) {
	venueA := venuetest.New("venueA").
		WithFunding("ETH", core.NewFundingRate(decimal.NewFromFloat(0.0003)), 3).
		WithMark("ETH", core.PriceFromFloat(3000)).
		WithOpenInterest("ETH", core.AmountFromFloat(1_000_000))
	venueB := venuetest.New("venueB").
		WithFunding("ETH", core.NewFundingRate(decimal.NewFromFloat(0.0001)), 3).
		WithMark("ETH", core.PriceFromFloat(3100)). // >1% divergence from venueA's 3000
		WithOpenInterest("ETH", core.AmountFromFloat(1_000_000))

	agg := New(DefaultConfig(), nil, nil, logging.NewNop())
	opps, err := agg.Scan(context.Background(), map[string]core.VenueAdapter{
		"venueA": venueA,
		"venueB": venueB,
	}, []string{"ETH"})
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestPairPerpSpotPositiveRateShortsPerp(t *testing.T) {
	agg := New(DefaultConfig(), nil, nil, logging.NewNop())
	snap := core.FundingSnapshot{
		Venue: "binance", Symbol: "ETH",
		RatePerInterval: core.NewFundingRate(decimal.NewFromFloat(0.0005)),
		IntervalsPerDay: 3,
	}
	opp, ok := agg.PairPerpSpot("ETH", "binance", "coinbase", snap, core.PriceFromFloat(3000), core.PriceFromFloat(3001), core.AmountFromFloat(1_000_000), time.Now())
	require.True(t, ok)
	assert.Equal(t, "binance", opp.ShortVenue)
	assert.Equal(t, "coinbase", opp.LongVenue)
}

func TestPairPerpLendPrefersHigherLeg(t *testing.T) {
	agg := New(DefaultConfig(), nil, nil, logging.NewNop())
	snap := core.FundingSnapshot{
		Venue: "binance", Symbol: "ETH",
		RatePerInterval: core.NewFundingRate(decimal.NewFromFloat(0.0010)),
		IntervalsPerDay: 3,
	}
	reserve := core.ReserveSnapshot{
		Venue:     "aave",
		Asset:     "USDC",
		SupplyAPR: core.PercentageFromFloat(4),
		BorrowAPR: core.PercentageFromFloat(1),
	}
	opp, ok := agg.PairPerpLend("ETH", "binance", snap, reserve, core.PriceFromFloat(3000), core.AmountFromFloat(1_000_000), time.Now())
	require.True(t, ok)
	assert.Equal(t, "aave", opp.LongVenue, "aave's 3% net carry is the lower-yielding leg, so it's long")
	assert.Equal(t, "binance", opp.ShortVenue, "perp's annualized funding (~109%) beats aave's carry, so perp is short")
}

func TestToxicBasisTrackerFlagsAfterConsecutiveStrikes(t *testing.T) {
	tracker := NewToxicBasisTracker(decimal.NewFromFloat(0.01), 3)
	assert.False(t, tracker.Observe("ETH", decimal.NewFromFloat(0.02)))
	assert.False(t, tracker.Observe("ETH", decimal.NewFromFloat(0.02)))
	assert.True(t, tracker.Observe("ETH", decimal.NewFromFloat(0.02)))
}

func TestToxicBasisTrackerResetsOnGoodObservation(t *testing.T) {
	tracker := NewToxicBasisTracker(decimal.NewFromFloat(0.01), 2)
	tracker.Observe("ETH", decimal.NewFromFloat(0.02))
	assert.False(t, tracker.Observe("ETH", decimal.NewFromFloat(0.001)))
	assert.False(t, tracker.Observe("ETH", decimal.NewFromFloat(0.02)))
}
