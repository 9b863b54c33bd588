// Package liquidity estimates how large a position a market can absorb
// without projected costs eating into the target APY. It is new code,
// built on internal/costcalc in the same pure-function idiom, with its
// geometric candidate sweep modeled on the corpus's
// internal/trading/arbitrage/selector.go candidate-scan loop.
package liquidity

import (
	"fmt"

	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/costcalc"
)

// DefaultAPYFloor is the minimum projected net APY a sized position must
// clear.
var DefaultAPYFloor = core.PercentageFromFloat(15)

// Book is the quoted top-of-book for one leg of the opportunity.
type Book struct {
	Bid          core.Price
	Ask          core.Price
	OpenInterest core.Amount
}

// Input bundles everything MaxViableSize needs for both legs of a
// candidate opportunity.
type Input struct {
	LongBook  Book
	ShortBook Book

	LongRate  core.FundingRate
	ShortRate core.FundingRate

	LongFees  costcalc.FeeRates
	ShortFees costcalc.FeeRates

	APYFloor       core.Percentage
	HoldingHours   float64
	MinCandidate   core.Amount
	MaxCandidate   core.Amount
	SweepFactor    float64 // geometric step multiplier, e.g. 1.5
}

// Result is MaxViableSize's outcome.
type Result struct {
	SizeUSD  core.Amount
	NetAPY   core.Percentage
	Viable   bool
	Warnings []string
}

// MaxViableSize sweeps candidate position sizes geometrically, projects
// net APY at each via costcalc, and returns the largest size whose
// projected net APY still clears floor. Ties (equal APY at two sizes)
// prefer the smaller size. With no depth data on either leg it falls back
// to the 5%-of-min-open-interest heuristic.
func MaxViableSize(in Input) Result {
	if in.HoldingHours <= 0 {
		in.HoldingHours = 24
	}
	if in.SweepFactor <= 1 {
		in.SweepFactor = 1.5
	}
	floor := in.APYFloor
	if floor.IsZero() {
		floor = DefaultAPYFloor
	}

	if in.LongBook.OpenInterest.IsZero() && in.ShortBook.OpenInterest.IsZero() {
		minOI := in.LongBook.OpenInterest
		if in.ShortBook.OpenInterest.LessThan(minOI) {
			minOI = in.ShortBook.OpenInterest
		}
		fallback := minOI.Mul(decimal.NewFromFloat(0.05))
		return Result{
			SizeUSD:  fallback,
			Viable:   fallback.IsZero() == false,
			Warnings: []string{"no depth data: falling back to 5% of minimum open interest"},
		}
	}

	minSize := in.MinCandidate
	if minSize.IsZero() {
		minSize = core.AmountFromFloat(1000)
	}
	maxSize := in.MaxCandidate
	if maxSize.IsZero() {
		minOI := in.LongBook.OpenInterest
		if in.ShortBook.OpenInterest.LessThan(minOI) {
			minOI = in.ShortBook.OpenInterest
		}
		maxSize = minOI.Mul(decimal.NewFromFloat(0.5))
	}
	if maxSize.LessThan(minSize) {
		maxSize = minSize
	}

	var bestSize core.Amount
	var bestAPY core.Percentage
	viable := false

	size := minSize
	for !size.GreaterThan(maxSize) {
		netAPY := projectNetAPY(in, size)
		if !netAPY.LessThan(floor) {
			// the sweep ascends, so each clearing size replaces the best so
			// far; equal APY at a larger size keeps the existing smaller bestSize.
			if !viable || !netAPY.Decimal().Equal(bestAPY.Decimal()) {
				bestSize = size
				bestAPY = netAPY
				viable = true
			}
		}
		size = core.NewAmount(size.Decimal().Mul(decimal.NewFromFloat(in.SweepFactor)))
	}

	if !viable {
		return Result{
			Viable:   false,
			Warnings: []string{fmt.Sprintf("market too thin: no size between %s and %s clears the %s APY floor", minSize, maxSize, floor)},
		}
	}
	return Result{SizeUSD: bestSize, NetAPY: bestAPY, Viable: true}
}

// NetAPY projects the net APY of in's pair at the given position size. It is
// the same cost model MaxViableSize sweeps internally, exported so other
// packages (e.g. the portfolio optimizer's own binary search) can reuse it
// without re-deriving the cost math.
func NetAPY(in Input, size core.Amount) core.Percentage {
	if in.HoldingHours <= 0 {
		in.HoldingHours = 24
	}
	return projectNetAPY(in, size)
}

func projectNetAPY(in Input, size core.Amount) core.Percentage {
	longSlip := costcalc.Slippage(costcalc.SlippageInput{
		Bid: in.LongBook.Bid, Ask: in.LongBook.Ask,
		OrderType: core.OrderTypeMarket, PositionUSD: size, OpenInterestUSD: in.LongBook.OpenInterest,
	})
	shortSlip := costcalc.Slippage(costcalc.SlippageInput{
		Bid: in.ShortBook.Bid, Ask: in.ShortBook.Ask,
		OrderType: core.OrderTypeMarket, PositionUSD: size, OpenInterestUSD: in.ShortBook.OpenInterest,
	})
	longFee := costcalc.Fee(size, in.LongFees, false)
	shortFee := costcalc.Fee(size, in.ShortFees, false)

	longImpact := costcalc.PredictedFundingImpact(in.LongRate, size, in.LongBook.OpenInterest, core.SideLong)
	shortImpact := costcalc.PredictedFundingImpact(in.ShortRate, size, in.ShortBook.OpenInterest, core.SideShort)
	effectiveSpread := in.ShortRate.Sub(longImpact).Sub(in.LongRate.Sub(shortImpact))

	totalCosts := longSlip.Add(shortSlip).Add(longFee).Add(shortFee)
	hourlyGrossReturn := size.Mul(effectiveSpread.Decimal()).Div(decimal.NewFromInt(8)) // per-8h rate -> hourly
	hourlyCostAmortized := totalCosts.Div(decimal.NewFromFloat(in.HoldingHours))
	hourlyNetReturn := hourlyGrossReturn.Sub(hourlyCostAmortized)

	annualHours := decimal.NewFromFloat(24 * 365)
	if size.IsZero() {
		return core.PercentageFromFloat(0)
	}
	netAPYFraction := hourlyNetReturn.Mul(annualHours).Decimal().Div(size.Decimal())
	return core.FractionToPercentage(netAPYFraction)
}
