// Package portfolio implements PortfolioOptimizer: given a set of
// candidate opportunities and a capital budget, it caps each opportunity's
// size at the largest position that still clears a target APY, discounts
// that cap for funding-rate volatility and thin historical data, then
// allocates the budget proportionally across whatever survives.
//
// Grounded on the corpus's PortfolioAllocator
// (internal/trading/portfolio/allocator.go): the score-weighted,
// cap-then-normalize allocation shape is kept, generalized from a
// QualityScore-only weighting onto this module's per-opportunity size caps.
package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/liquidity"
)

// DefaultTargetAPY is the default target APY used to cap position sizes.
var DefaultTargetAPY = core.PercentageFromFloat(35)

// DefaultSampleTarget is the fallback target sample count for a venue with
// no entry in Config.VenueSampleTarget.
const DefaultSampleTarget = 21

const maxSpreadSanityFraction = 0.5 // 50% annualized: treated as a data error above this

// Config tunes the optimizer's target APY and per-venue data-quality targets.
type Config struct {
	TargetAPY            core.Percentage
	VenueSampleTarget    map[string]int
	DefaultSampleTarget  int
	MaxBinarySearchIters int
}

// DefaultConfig mirrors the optimizer's built-in defaults.
func DefaultConfig() Config {
	return Config{
		TargetAPY:            DefaultTargetAPY,
		VenueSampleTarget:    map[string]int{},
		DefaultSampleTarget:  DefaultSampleTarget,
		MaxBinarySearchIters: 40,
	}
}

// Candidate bundles one opportunity with what the optimizer needs to size
// and quality-gate it: the liquidity/cost model input for its pair, and the
// historical sample counts and average spread backing its quality factor.
type Candidate struct {
	Opportunity core.ArbitrageOpportunity
	Liquidity   liquidity.Input

	LongSamples         int
	ShortSamples        int
	AvgHistoricalSpread core.FundingRate
}

// Allocation is one surviving candidate's sized position.
type Allocation struct {
	Opportunity core.ArbitrageOpportunity
	SizeUSD     core.Amount
	NetAPY      core.Percentage
}

// Result is Optimize's outcome.
type Result struct {
	Allocations  []Allocation
	AggregateAPY core.Percentage
	Warnings     []string
}

// Optimize caps, quality-adjusts, validates, and proportionally allocates
// totalCapital across candidates.
func Optimize(cfg Config, candidates []Candidate, totalCapital core.Amount) Result {
	target := cfg.TargetAPY
	if target.IsZero() {
		target = DefaultTargetAPY
	}
	maxIters := cfg.MaxBinarySearchIters
	if maxIters <= 0 {
		maxIters = 40
	}

	type sized struct {
		candidate Candidate
		cap       core.Amount
		netAPY    core.Percentage
	}

	var warnings []string
	var sizedCandidates []sized

	for _, c := range candidates {
		label := candidateLabel(c.Opportunity)

		rawCap, netAPY, ok := maxPortfolioForTargetAPY(c.Liquidity, target, maxIters)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: no size clears the %s APY target, excluded", label, target))
			continue
		}

		volFactor := clampDecimal(c.Opportunity.StabilityScore, decimal.NewFromFloat(0.3), decimal.NewFromInt(1))
		adjCap := rawCap.Mul(volFactor)

		longTarget := sampleTarget(cfg, c.Opportunity.LongVenue)
		shortTarget := sampleTarget(cfg, c.Opportunity.ShortVenue)
		q := minDecimal(
			dataQualityFactor(c.LongSamples, longTarget),
			dataQualityFactor(c.ShortSamples, shortTarget),
		)
		adjCap = adjCap.Mul(q)

		if reason, bad := spreadSanityFails(c); bad {
			warnings = append(warnings, fmt.Sprintf("%s: %s, excluded", label, reason))
			continue
		}

		sizedCandidates = append(sizedCandidates, sized{candidate: c, cap: adjCap, netAPY: netAPY})
	}

	if len(sizedCandidates) == 0 {
		return Result{Warnings: warnings}
	}

	totalCap := decimal.Zero
	for _, s := range sizedCandidates {
		totalCap = totalCap.Add(s.cap.Decimal())
	}
	if totalCap.IsZero() {
		return Result{Warnings: warnings}
	}

	scale := decimal.NewFromInt(1)
	if totalCap.GreaterThan(totalCapital.Decimal()) {
		scale = totalCapital.Decimal().Div(totalCap)
	}

	var allocations []Allocation
	allocatedTotal := decimal.Zero
	weightedAPY := decimal.Zero
	for _, s := range sizedCandidates {
		size := core.NewAmount(s.cap.Decimal().Mul(scale))
		allocations = append(allocations, Allocation{
			Opportunity: s.candidate.Opportunity,
			SizeUSD:     size,
			NetAPY:      s.netAPY,
		})
		allocatedTotal = allocatedTotal.Add(size.Decimal())
		weightedAPY = weightedAPY.Add(size.Decimal().Mul(s.netAPY.Fraction()))
	}

	aggregateAPY := core.PercentageFromFloat(0)
	if !allocatedTotal.IsZero() {
		aggregateAPY = core.FractionToPercentage(weightedAPY.Div(allocatedTotal))
	}

	return Result{Allocations: allocations, AggregateAPY: aggregateAPY, Warnings: warnings}
}

// maxPortfolioForTargetAPY binary searches position size in
// [1000, min(longOI, shortOI) x 0.1] for the largest size whose projected
// net APY still clears target, assuming netAPY decreases monotonically with
// size (costs scale up, amortized return doesn't). Returns ok=false if open
// interest is zero or even the minimum candidate size misses target.
func maxPortfolioForTargetAPY(in liquidity.Input, target core.Percentage, maxIters int) (core.Amount, core.Percentage, bool) {
	minOI := in.LongBook.OpenInterest
	if in.ShortBook.OpenInterest.LessThan(minOI) {
		minOI = in.ShortBook.OpenInterest
	}
	if minOI.IsZero() {
		return core.Amount{}, core.Percentage{}, false
	}

	lo := core.AmountFromFloat(1000)
	hi := core.NewAmount(minOI.Decimal().Mul(decimal.NewFromFloat(0.1)))
	if hi.LessThan(lo) {
		hi = lo
	}

	loAPY := liquidity.NetAPY(in, lo)
	if loAPY.LessThan(target) {
		return core.Amount{}, core.Percentage{}, false
	}

	bestSize, bestAPY := lo, loAPY
	tolerance := decimal.NewFromFloat(1.0) // $1, below which further bisection is noise

	for i := 0; i < maxIters; i++ {
		if hi.Decimal().Sub(lo.Decimal()).LessThan(tolerance) {
			break
		}
		mid := core.NewAmount(lo.Decimal().Add(hi.Decimal()).Div(decimal.NewFromInt(2)))
		midAPY := liquidity.NetAPY(in, mid)
		if !midAPY.LessThan(target) {
			bestSize, bestAPY = mid, midAPY
			lo = mid
		} else {
			hi = mid
		}
	}
	return bestSize, bestAPY, true
}

func sampleTarget(cfg Config, venue string) int {
	if t, ok := cfg.VenueSampleTarget[venue]; ok && t > 0 {
		return t
	}
	if cfg.DefaultSampleTarget > 0 {
		return cfg.DefaultSampleTarget
	}
	return DefaultSampleTarget
}

// dataQualityFactor computes q = clamp(n/t, 0.3, 1.0), with a
// hard floor of 0.3 once n drops below 10% of the target.
func dataQualityFactor(samples, target int) decimal.Decimal {
	if target <= 0 {
		return decimal.NewFromInt(1)
	}
	n := decimal.NewFromInt(int64(samples))
	t := decimal.NewFromInt(int64(target))
	if n.LessThan(t.Mul(decimal.NewFromFloat(0.1))) {
		return decimal.NewFromFloat(0.3)
	}
	return clampDecimal(n.Div(t), decimal.NewFromFloat(0.3), decimal.NewFromInt(1))
}

// spreadSanityFails rejects candidates whose average
// historical spread looks like a data error (implausibly large once
// annualized) or whose average exactly equals the current spread, the
// fallback sentinel meaning no real history has accumulated yet.
func spreadSanityFails(c Candidate) (string, bool) {
	const intervalsPerDay = 3 // this module's universal perp funding cadence
	annualized := c.AvgHistoricalSpread.AnnualizedAPR(intervalsPerDay)
	if annualized.Fraction().Abs().GreaterThan(decimal.NewFromFloat(maxSpreadSanityFraction)) {
		return "average historical spread exceeds 50% annualized, looks like a data error", true
	}
	if c.AvgHistoricalSpread.Decimal().Equal(c.Opportunity.Spread.Decimal()) {
		return "average historical spread equals current spread (no real history yet)", true
	}
	return "", false
}

func candidateLabel(opp core.ArbitrageOpportunity) string {
	return fmt.Sprintf("%s %s/%s", opp.Symbol, opp.LongVenue, opp.ShortVenue)
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
