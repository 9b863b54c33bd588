package planner

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/costcalc"
	"fundingkeeper/internal/kerr"
	"fundingkeeper/internal/liquidity"
)

func wideOpportunity() core.ArbitrageOpportunity {
	return core.ArbitrageOpportunity{
		Symbol:     "ETH",
		Strategy:   core.StrategyPerpPerp,
		LongVenue:  "venueA",
		ShortVenue: "venueB",
		LongRate:   core.NewFundingRate(decimal.NewFromFloat(0.0001)),
		ShortRate:  core.NewFundingRate(decimal.NewFromFloat(0.0031)),
		Spread:     core.NewFundingRate(decimal.NewFromFloat(0.003)),
		LongMark:   core.PriceFromFloat(3000),
		ShortMark:  core.PriceFromFloat(3000),
		Timestamp:  time.Now(),
	}
}

func wideBook(oi float64) liquidity.Book {
	return liquidity.Book{
		Bid:          core.PriceFromFloat(2999),
		Ask:          core.PriceFromFloat(3000),
		OpenInterest: core.AmountFromFloat(oi),
	}
}

func TestBuildAcceptsAViableWideSpreadPlan(t *testing.T) {
	in := Input{
		Opportunity:   wideOpportunity(),
		AllocationUSD: core.AmountFromFloat(50_000),
		LongBalance:   core.AmountFromFloat(100_000),
		ShortBalance:  core.AmountFromFloat(100_000),
		LongBook:      wideBook(5_000_000),
		ShortBook:     wideBook(5_000_000),
		LongFees:      costcalc.FeeRates{Maker: core.PercentageFromFloat(0.02)},
		ShortFees:     costcalc.FeeRates{Maker: core.PercentageFromFloat(0.02)},
		ScanID:        42,
	}

	plan, err := Build(DefaultConfig(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "venueA", plan.LongOrder.Venue)
	assert.Equal(t, "venueB", plan.ShortOrder.Venue)
	assert.Equal(t, core.OrderTypeLimit, plan.LongOrder.Type)
	assert.Equal(t, core.TIFGTC, plan.LongOrder.TIF)
	assert.True(t, plan.LongOrder.Size.Equal(plan.ShortOrder.Size))
	assert.True(t, plan.PositionSizeUSD.GreaterThan(core.AmountFromFloat(0)))
}

func TestBuildFailsInsufficientBalanceBelowMinPosition(t *testing.T) {
	in := Input{
		Opportunity:   wideOpportunity(),
		AllocationUSD: core.AmountFromFloat(50_000),
		LongBalance:   core.AmountFromFloat(100),
		ShortBalance:  core.AmountFromFloat(100),
		LongBook:      wideBook(5_000_000),
		ShortBook:     wideBook(5_000_000),
	}

	_, err := Build(DefaultConfig(), in)
	require.Error(t, err)
	assert.Equal(t, kerr.InsufficientBalance, kerr.KindOf(err))
}

func TestBuildFailsLiquidityTooLowOnThinBooks(t *testing.T) {
	in := Input{
		Opportunity:   wideOpportunity(),
		AllocationUSD: core.AmountFromFloat(50_000),
		LongBalance:   core.AmountFromFloat(100_000),
		ShortBalance:  core.AmountFromFloat(100_000),
		LongBook:      wideBook(1),
		ShortBook:     wideBook(1),
	}

	_, err := Build(DefaultConfig(), in)
	require.Error(t, err)
	assert.Equal(t, kerr.LiquidityTooLow, kerr.KindOf(err))
}

func TestBuildRejectsRazorThinSpread(t *testing.T) {
	opp := wideOpportunity()
	opp.LongRate = core.NewFundingRate(decimal.NewFromFloat(0.0001))
	opp.ShortRate = core.NewFundingRate(decimal.NewFromFloat(0.00011))
	opp.Spread = core.NewFundingRate(decimal.NewFromFloat(0.00001))

	in := Input{
		Opportunity:   opp,
		AllocationUSD: core.AmountFromFloat(50_000),
		LongBalance:   core.AmountFromFloat(100_000),
		ShortBalance:  core.AmountFromFloat(100_000),
		LongBook:      wideBook(5_000_000),
		ShortBook:     wideBook(5_000_000),
	}

	_, err := Build(DefaultConfig(), in)
	require.Error(t, err)
	kind := kerr.KindOf(err)
	assert.Truef(t, kind == kerr.LiquidityTooLow || kind == kerr.Unprofitable,
		"expected LiquidityTooLow or Unprofitable, got %s", kind)
}

func TestBuildFailsOnMissingQuotes(t *testing.T) {
	in := Input{
		Opportunity:   wideOpportunity(),
		AllocationUSD: core.AmountFromFloat(50_000),
		LongBalance:   core.AmountFromFloat(100_000),
		ShortBalance:  core.AmountFromFloat(100_000),
		LongBook:      liquidity.Book{},
		ShortBook:     wideBook(5_000_000),
	}

	_, err := Build(DefaultConfig(), in)
	require.Error(t, err)
	assert.Equal(t, kerr.InvalidRequest, kerr.KindOf(err))
}
