package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/liquidity"
)

func wideSpreadCandidate(symbol, long, short string, longOI, shortOI float64) Candidate {
	opp := core.ArbitrageOpportunity{
		Symbol:         symbol,
		LongVenue:      long,
		ShortVenue:     short,
		Spread:         core.NewFundingRate(decimal.NewFromFloat(0.003)),
		StabilityScore: decimal.NewFromFloat(0.9),
	}
	in := liquidity.Input{
		LongBook:     liquidity.Book{Bid: core.PriceFromFloat(2999), Ask: core.PriceFromFloat(3000), OpenInterest: core.AmountFromFloat(longOI)},
		ShortBook:    liquidity.Book{Bid: core.PriceFromFloat(2999), Ask: core.PriceFromFloat(3000), OpenInterest: core.AmountFromFloat(shortOI)},
		LongRate:     core.NewFundingRate(decimal.NewFromFloat(0.0001)),
		ShortRate:    core.NewFundingRate(decimal.NewFromFloat(0.0031)),
		HoldingHours: 72,
	}
	return Candidate{
		Opportunity:         opp,
		Liquidity:           in,
		LongSamples:         21,
		ShortSamples:        21,
		AvgHistoricalSpread: core.NewFundingRate(decimal.NewFromFloat(0.0025)),
	}
}

func TestOptimizeAllocatesToAViableCandidate(t *testing.T) {
	cfg := DefaultConfig()
	c := wideSpreadCandidate("ETH", "venueA", "venueB", 5_000_000, 5_000_000)

	result := Optimize(cfg, []Candidate{c}, core.AmountFromFloat(1_000_000))
	require.Len(t, result.Allocations, 1)
	assert.True(t, result.Allocations[0].SizeUSD.GreaterThan(core.AmountFromFloat(0)))
	assert.Empty(t, result.Warnings)
}

func TestOptimizeExcludesCandidateBelowTargetAPYEvenAtMinSize(t *testing.T) {
	cfg := DefaultConfig()
	c := wideSpreadCandidate("ETH", "venueA", "venueB", 5_000_000, 5_000_000)
	c.Liquidity.LongRate = core.NewFundingRate(decimal.NewFromFloat(0.0001))
	c.Liquidity.ShortRate = core.NewFundingRate(decimal.NewFromFloat(0.00011)) // razor-thin spread

	result := Optimize(cfg, []Candidate{c}, core.AmountFromFloat(1_000_000))
	assert.Empty(t, result.Allocations)
	require.Len(t, result.Warnings, 1)
}

func TestOptimizeExcludesZeroOpenInterest(t *testing.T) {
	cfg := DefaultConfig()
	c := wideSpreadCandidate("ETH", "venueA", "venueB", 0, 0)

	result := Optimize(cfg, []Candidate{c}, core.AmountFromFloat(1_000_000))
	assert.Empty(t, result.Allocations)
}

func TestOptimizeExcludesSentinelAverageSpread(t *testing.T) {
	cfg := DefaultConfig()
	c := wideSpreadCandidate("ETH", "venueA", "venueB", 5_000_000, 5_000_000)
	c.AvgHistoricalSpread = c.Opportunity.Spread // sentinel: no real history

	result := Optimize(cfg, []Candidate{c}, core.AmountFromFloat(1_000_000))
	assert.Empty(t, result.Allocations)
	require.Len(t, result.Warnings, 1)
}

func TestOptimizeExcludesImplausibleAverageSpread(t *testing.T) {
	cfg := DefaultConfig()
	c := wideSpreadCandidate("ETH", "venueA", "venueB", 5_000_000, 5_000_000)
	c.AvgHistoricalSpread = core.NewFundingRate(decimal.NewFromFloat(0.01)) // >50% annualized

	result := Optimize(cfg, []Candidate{c}, core.AmountFromFloat(1_000_000))
	assert.Empty(t, result.Allocations)
}

func TestOptimizeScalesDownWhenCapsExceedTotalCapital(t *testing.T) {
	cfg := DefaultConfig()
	c1 := wideSpreadCandidate("ETH", "venueA", "venueB", 50_000_000, 50_000_000)
	c2 := wideSpreadCandidate("BTC", "venueA", "venueB", 50_000_000, 50_000_000)

	totalCapital := core.AmountFromFloat(10_000)
	result := Optimize(cfg, []Candidate{c1, c2}, totalCapital)
	require.Len(t, result.Allocations, 2)

	sum := decimal.Zero
	for _, a := range result.Allocations {
		sum = sum.Add(a.SizeUSD.Decimal())
	}
	assert.True(t, sum.LessThanOrEqual(totalCapital.Decimal().Add(decimal.NewFromFloat(0.01))))
}

func TestOptimizeNoCandidatesReturnsEmptyResult(t *testing.T) {
	result := Optimize(DefaultConfig(), nil, core.AmountFromFloat(1_000_000))
	assert.Empty(t, result.Allocations)
	assert.Empty(t, result.Warnings)
}

func TestDataQualityFactorFloorsBelowTenPercentOfTarget(t *testing.T) {
	q := dataQualityFactor(1, 21)
	assert.True(t, q.Equal(decimal.NewFromFloat(0.3)))
}

func TestDataQualityFactorClampsAtOne(t *testing.T) {
	q := dataQualityFactor(1000, 21)
	assert.True(t, q.Equal(decimal.NewFromInt(1)))
}
