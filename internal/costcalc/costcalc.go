// Package costcalc holds the keeper's pure cost-modeling functions:
// slippage, predicted funding impact, fees, and break-even timing. Every
// function here is stateless and side-effect free, following the
// corpus's margin simulator (internal/risk/margin/marginsim.go) and
// quality-weighting math in internal/trading/arbitrage/selector.go for
// decimal-math style, adapted onto the exact formulas specified.
package costcalc

import (
	"math"

	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
)

var (
	defaultSpreadFraction  = decimal.NewFromFloat(0.001)
	limitBaseFraction      = decimal.NewFromFloat(0.0001)
	impactMultiplier       = decimal.NewFromInt(2)
	maxImpactFraction      = decimal.NewFromFloat(0.02)
	fundingImpactScale     = decimal.NewFromFloat(0.1)
	maxFundingImpactFactor = decimal.NewFromFloat(0.1)
	defaultFeeRate         = decimal.NewFromFloat(0.0005)
)

// SlippageInput bundles the venue-quoted book and intended order for
// Slippage.
type SlippageInput struct {
	Bid             core.Price
	Ask             core.Price
	OrderType       core.OrderType
	PositionUSD     core.Amount
	OpenInterestUSD core.Amount
}

// Slippage estimates the USD cost of crossing the book for a position of
// the given size: a fixed base cost for limit orders,
// half the quoted spread for market orders, plus a size-relative impact
// term capped at 2%.
func Slippage(in SlippageInput) core.Amount {
	bid := in.Bid.Decimal()
	ask := in.Ask.Decimal()
	spread := ask.Sub(bid)
	mid := ask.Add(bid).Div(decimal.NewFromInt(2))

	spreadFraction := defaultSpreadFraction
	if !mid.IsZero() {
		spreadFraction = spread.Div(mid)
	}

	base := limitBaseFraction
	if in.OrderType == core.OrderTypeMarket {
		base = spreadFraction.Div(decimal.NewFromInt(2))
	}

	impact := decimal.Zero
	oi := in.OpenInterestUSD.Decimal()
	if oi.IsPositive() {
		ratio := in.PositionUSD.Decimal().Div(oi)
		if ratio.GreaterThan(decimal.NewFromInt(1)) {
			ratio = decimal.NewFromInt(1)
		}
		ratioF, _ := ratio.Float64()
		sqrtRatio := decimal.NewFromFloat(math.Sqrt(ratioF))
		impact = sqrtRatio.Mul(spreadFraction).Mul(impactMultiplier)
		if impact.GreaterThan(maxImpactFraction) {
			impact = maxImpactFraction
		}
	}

	return core.NewAmount(in.PositionUSD.Decimal().Mul(base.Add(impact)))
}

// PredictedFundingImpact estimates how much a position of positionUSD on
// side would move the venue's own funding rate: longs raise the
// rate, shorts reduce it. Returns zero when open interest is non-positive.
func PredictedFundingImpact(currentRate core.FundingRate, positionUSD core.Amount, openInterestUSD core.Amount, side core.OrderSide) core.FundingRate {
	oi := openInterestUSD.Decimal()
	if !oi.IsPositive() {
		return core.NewFundingRate(decimal.Zero)
	}

	ratio := positionUSD.Decimal().Div(oi)
	ratioF, _ := ratio.Float64()
	if ratioF < 0 {
		ratioF = 0
	}
	factor := decimal.NewFromFloat(math.Sqrt(ratioF)).Mul(fundingImpactScale)
	if factor.GreaterThan(maxFundingImpactFactor) {
		factor = maxFundingImpactFactor
	}

	impact := currentRate.Decimal().Mul(factor)
	if side == core.SideShort {
		impact = impact.Neg()
	}
	return core.NewFundingRate(impact)
}

// FeeRates is the maker/taker fee schedule for one venue.
type FeeRates struct {
	Maker core.Percentage
	Taker core.Percentage
}

// Fee computes the USD fee for a fill, falling back to a 5bps default
// when the venue's rates are unknown (zero value).
func Fee(positionUSD core.Amount, rates FeeRates, isMaker bool) core.Amount {
	rate := rates.Taker.Fraction()
	if isMaker {
		rate = rates.Maker.Fraction()
	}
	if rate.IsZero() {
		rate = defaultFeeRate
	}
	return core.NewAmount(positionUSD.Decimal().Mul(rate))
}

// BreakEvenHours returns the hours of holding required to recoup
// totalCosts at hourlyReturn. Zero if costs are non-positive,
// +Inf if the return is non-positive (the position never breaks even).
func BreakEvenHours(totalCosts core.Amount, hourlyReturn core.Amount) float64 {
	costs := totalCosts.Decimal()
	if costs.LessThan(decimal.Zero) || costs.IsZero() {
		return 0
	}
	ret := hourlyReturn.Decimal()
	if ret.LessThan(decimal.Zero) || ret.IsZero() {
		return math.Inf(1)
	}
	hours, _ := costs.Div(ret).Float64()
	return hours
}
