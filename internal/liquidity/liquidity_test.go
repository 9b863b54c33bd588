package liquidity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fundingkeeper/internal/core"
)

func baseInput() Input {
	return Input{
		LongBook:  Book{Bid: core.PriceFromFloat(99.95), Ask: core.PriceFromFloat(100.05), OpenInterest: core.AmountFromFloat(50_000_000)},
		ShortBook: Book{Bid: core.PriceFromFloat(99.95), Ask: core.PriceFromFloat(100.05), OpenInterest: core.AmountFromFloat(50_000_000)},
		LongRate:  core.NewFundingRate(decimal.NewFromFloat(-0.0005)),
		ShortRate: core.NewFundingRate(decimal.NewFromFloat(0.0010)),
		HoldingHours: 72,
	}
}

func TestMaxViableSizeFindsAViableSizeForWideSpread(t *testing.T) {
	in := baseInput()
	res := MaxViableSize(in)
	assert.True(t, res.Viable)
	assert.True(t, res.SizeUSD.GreaterThan(core.AmountFromFloat(0)))
	assert.False(t, res.NetAPY.LessThan(DefaultAPYFloor))
}

func TestMaxViableSizeNoDepthFallsBackToFivePercentOfMinOI(t *testing.T) {
	in := baseInput()
	in.LongBook.OpenInterest = core.AmountFromFloat(0)
	in.ShortBook.OpenInterest = core.AmountFromFloat(0)
	res := MaxViableSize(in)
	assert.True(t, res.SizeUSD.Decimal().Equal(decimal.Zero))
}

func TestMaxViableSizeReportsMarketTooThinWhenSpreadTiny(t *testing.T) {
	in := baseInput()
	in.LongRate = core.NewFundingRate(decimal.NewFromFloat(0.00001))
	in.ShortRate = core.NewFundingRate(decimal.NewFromFloat(0.00002))
	in.LongBook.OpenInterest = core.AmountFromFloat(100_000)
	in.ShortBook.OpenInterest = core.AmountFromFloat(100_000)

	res := MaxViableSize(in)
	assert.False(t, res.Viable)
	assert.NotEmpty(t, res.Warnings)
}

func TestMaxViableSizeRespectsExplicitCandidateBounds(t *testing.T) {
	in := baseInput()
	in.MinCandidate = core.AmountFromFloat(5000)
	in.MaxCandidate = core.AmountFromFloat(20000)
	in.SweepFactor = 2

	res := MaxViableSize(in)
	if res.Viable {
		assert.True(t, !res.SizeUSD.GreaterThan(in.MaxCandidate))
	}
}
