package costcalc

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fundingkeeper/internal/core"
)

func TestSlippageMarketOrderUsesHalfSpread(t *testing.T) {
	in := SlippageInput{
		Bid:         core.PriceFromFloat(99.9),
		Ask:         core.PriceFromFloat(100.1),
		OrderType:   core.OrderTypeMarket,
		PositionUSD: core.AmountFromFloat(10000),
	}
	cost := Slippage(in)
	assert.True(t, cost.GreaterThan(core.AmountFromFloat(0)))
}

func TestSlippageLimitOrderUsesFixedBase(t *testing.T) {
	in := SlippageInput{
		Bid:         core.PriceFromFloat(99.9),
		Ask:         core.PriceFromFloat(100.1),
		OrderType:   core.OrderTypeLimit,
		PositionUSD: core.AmountFromFloat(10000),
	}
	cost := Slippage(in)
	expected := decimal.NewFromFloat(10000).Mul(limitBaseFraction)
	assert.True(t, cost.Decimal().Equal(expected))
}

func TestSlippageZeroMidFallsBackToDefaultSpread(t *testing.T) {
	in := SlippageInput{
		Bid:         core.PriceFromFloat(0),
		Ask:         core.PriceFromFloat(0),
		OrderType:   core.OrderTypeMarket,
		PositionUSD: core.AmountFromFloat(1000),
	}
	cost := Slippage(in)
	expected := decimal.NewFromFloat(1000).Mul(defaultSpreadFraction.Div(decimal.NewFromInt(2)))
	assert.True(t, cost.Decimal().Equal(expected))
}

func TestSlippageImpactCappedAtTwoPercent(t *testing.T) {
	in := SlippageInput{
		Bid:             core.PriceFromFloat(90),
		Ask:             core.PriceFromFloat(110),
		OrderType:       core.OrderTypeMarket,
		PositionUSD:     core.AmountFromFloat(1_000_000),
		OpenInterestUSD: core.AmountFromFloat(1_000_000),
	}
	cost := Slippage(in)
	maxExpected := decimal.NewFromFloat(1_000_000).Mul(decimal.NewFromFloat(0.02).Add(decimal.NewFromFloat(0.1)))
	assert.True(t, cost.Decimal().LessThanOrEqual(maxExpected))
}

func TestPredictedFundingImpactZeroWithoutOpenInterest(t *testing.T) {
	impact := PredictedFundingImpact(core.NewFundingRate(decimal.NewFromFloat(0.0003)), core.AmountFromFloat(1000), core.AmountFromFloat(0), core.SideLong)
	assert.True(t, impact.Decimal().IsZero())
}

func TestPredictedFundingImpactLongRaisesRate(t *testing.T) {
	impact := PredictedFundingImpact(core.NewFundingRate(decimal.NewFromFloat(0.0003)), core.AmountFromFloat(100_000), core.AmountFromFloat(1_000_000), core.SideLong)
	assert.True(t, impact.Decimal().IsPositive())
}

func TestPredictedFundingImpactShortLowersRate(t *testing.T) {
	impact := PredictedFundingImpact(core.NewFundingRate(decimal.NewFromFloat(0.0003)), core.AmountFromFloat(100_000), core.AmountFromFloat(1_000_000), core.SideShort)
	assert.True(t, impact.Decimal().IsNegative())
}

func TestFeeFallsBackToDefaultWhenVenueUnknown(t *testing.T) {
	fee := Fee(core.AmountFromFloat(10000), FeeRates{}, false)
	assert.True(t, fee.Decimal().Equal(decimal.NewFromFloat(5)))
}

func TestFeeUsesMakerRateWhenMaker(t *testing.T) {
	rates := FeeRates{Maker: core.PercentageFromFloat(0.02), Taker: core.PercentageFromFloat(0.05)}
	fee := Fee(core.AmountFromFloat(10000), rates, true)
	assert.True(t, fee.Decimal().Equal(decimal.NewFromFloat(2)))
}

func TestBreakEvenHoursZeroWhenCostsNonPositive(t *testing.T) {
	hours := BreakEvenHours(core.AmountFromFloat(0), core.AmountFromFloat(10))
	assert.Equal(t, 0.0, hours)
}

func TestBreakEvenHoursInfiniteWhenReturnNonPositive(t *testing.T) {
	hours := BreakEvenHours(core.AmountFromFloat(100), core.AmountFromFloat(0))
	assert.True(t, math.IsInf(hours, 1))
}

func TestBreakEvenHoursComputesRatio(t *testing.T) {
	hours := BreakEvenHours(core.AmountFromFloat(100), core.AmountFromFloat(10))
	assert.Equal(t, 10.0, hours)
}
