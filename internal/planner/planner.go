// Package planner implements ExecutionPlanBuilder: turns an
// opportunity, an allocated size, and the two venues' current balances and
// order books into a validated, ready-to-submit ExecutionPlan, or a typed
// failure from internal/kerr.
//
// Grounded on the corpus's arbitrage engine's entry-sizing path
// (internal/engine/arbengine/engine.go's executeEntry/getAggressiveLimitPrice)
// for the balance -> leveraged size -> limit price pipeline shape, combined
// with internal/costcalc and internal/liquidity for the cost/viability math
// the corpus's engine doesn't itself need (it trades at a fixed quantity).
package planner

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/costcalc"
	"fundingkeeper/internal/kerr"
	"fundingkeeper/internal/liquidity"
)

// Config tunes the builder's sizing and acceptance thresholds.
type Config struct {
	BalanceUsagePct   decimal.Decimal
	Leverage          decimal.Decimal
	MinPositionUSD    core.Amount
	APYFloor          core.Percentage
	IntervalsPerDay   int
	HoldingHours      float64
	MaxBreakEvenHours float64
	FundingImpactGate decimal.Decimal // fraction of spread; above this, rates are impact-adjusted
}

// DefaultConfig mirrors the keeper's built-in defaults.
func DefaultConfig() Config {
	return Config{
		BalanceUsagePct:   decimal.NewFromFloat(0.9),
		Leverage:          decimal.NewFromFloat(2.0),
		MinPositionUSD:    core.AmountFromFloat(1000),
		APYFloor:          liquidity.DefaultAPYFloor,
		IntervalsPerDay:   3,
		HoldingHours:      24,
		MaxBreakEvenHours: 7 * 24,
		FundingImpactGate: decimal.NewFromFloat(0.01),
	}
}

// Input bundles everything Build needs beyond Config: the candidate
// opportunity, the capital allocated to it by the portfolio optimizer, each
// venue's available balance, and each leg's current order book and fee
// schedule.
type Input struct {
	Opportunity   core.ArbitrageOpportunity
	AllocationUSD core.Amount
	LongBalance   core.Amount
	ShortBalance  core.Amount
	LongBook      liquidity.Book
	ShortBook     liquidity.Book
	LongFees      costcalc.FeeRates
	ShortFees     costcalc.FeeRates
	ScanID        int64
}

// Build runs the nine-step sizing pipeline and returns a validated
// ExecutionPlan, or a *kerr.Error of kind InvalidRequest (missing
// quotes), InsufficientBalance, LiquidityTooLow, or Unprofitable.
func Build(cfg Config, in Input) (core.ExecutionPlan, error) {
	cfg = withDefaults(cfg)

	if in.LongBook.Bid.IsZero() || in.LongBook.Ask.IsZero() || in.ShortBook.Bid.IsZero() || in.ShortBook.Ask.IsZero() {
		return core.ExecutionPlan{}, kerr.New(kerr.InvalidRequest, "missing bid/ask quotes for one or both legs")
	}

	// Step 2: balance-gated sizing.
	available := minAmount(in.LongBalance, in.ShortBalance).Mul(cfg.BalanceUsagePct)
	leveraged := available.Mul(cfg.Leverage)
	positionUSD := minAmount(in.AllocationUSD, leveraged)
	if positionUSD.LessThan(cfg.MinPositionUSD) {
		return core.ExecutionPlan{}, kerr.New(kerr.InsufficientBalance,
			"available leveraged balance cannot support the minimum position size")
	}

	// Step 4: liquidity cap.
	liqResult := liquidity.MaxViableSize(liquidity.Input{
		LongBook:     in.LongBook,
		ShortBook:    in.ShortBook,
		LongRate:     in.Opportunity.LongRate,
		ShortRate:    in.Opportunity.ShortRate,
		LongFees:     in.LongFees,
		ShortFees:    in.ShortFees,
		APYFloor:     cfg.APYFloor,
		HoldingHours: cfg.HoldingHours,
		MinCandidate: cfg.MinPositionUSD,
		MaxCandidate: positionUSD,
	})
	if !liqResult.Viable || liqResult.SizeUSD.LessThan(cfg.MinPositionUSD) {
		return core.ExecutionPlan{}, kerr.New(kerr.LiquidityTooLow,
			"market depth caps the viable position below the minimum position size")
	}
	positionUSD = liqResult.SizeUSD

	// Step 3: base-asset size at the average mark.
	avgMark := core.NewPrice(in.Opportunity.LongMark.Decimal().Add(in.Opportunity.ShortMark.Decimal()).Div(decimal.NewFromInt(2)))
	baseSize := positionUSD.BaseSize(avgMark)

	// Step 5: slippage and fees.
	longSlip := costcalc.Slippage(costcalc.SlippageInput{
		Bid: in.LongBook.Bid, Ask: in.LongBook.Ask,
		OrderType: core.OrderTypeLimit, PositionUSD: positionUSD, OpenInterestUSD: in.LongBook.OpenInterest,
	})
	shortSlip := costcalc.Slippage(costcalc.SlippageInput{
		Bid: in.ShortBook.Bid, Ask: in.ShortBook.Ask,
		OrderType: core.OrderTypeLimit, PositionUSD: positionUSD, OpenInterestUSD: in.ShortBook.OpenInterest,
	})
	// Entry legs post at mark (maker); the engine's Close submits market
	// orders on both legs, so the exit side pays the taker rate even
	// though the venue schedule itself doesn't vary by entry vs exit.
	longEntryFee := costcalc.Fee(positionUSD, in.LongFees, true)
	shortEntryFee := costcalc.Fee(positionUSD, in.ShortFees, true)
	longExitFee := costcalc.Fee(positionUSD, in.LongFees, false)
	shortExitFee := costcalc.Fee(positionUSD, in.ShortFees, false)

	// Step 6: funding-impact adjustment, gated at 1% of spread.
	longImpact := costcalc.PredictedFundingImpact(in.Opportunity.LongRate, positionUSD, in.LongBook.OpenInterest, core.SideLong)
	shortImpact := costcalc.PredictedFundingImpact(in.Opportunity.ShortRate, positionUSD, in.ShortBook.OpenInterest, core.SideShort)
	spreadUsed := in.Opportunity.Spread
	totalImpact := longImpact.Abs().Decimal().Add(shortImpact.Abs().Decimal())
	gate := spreadUsed.Decimal().Abs().Mul(cfg.FundingImpactGate)
	if totalImpact.GreaterThan(gate) {
		adjustedLong := in.Opportunity.LongRate.Sub(longImpact.Neg())
		adjustedShort := in.Opportunity.ShortRate.Sub(shortImpact.Neg())
		spreadUsed = adjustedShort.Sub(adjustedLong)
	}

	// Step 7: expected return and break-even.
	hoursPerInterval := 24.0 / float64(cfg.IntervalsPerDay)
	hourlyReturn := core.NewAmount(positionUSD.Decimal().Mul(spreadUsed.Decimal()).Div(decimal.NewFromFloat(hoursPerInterval)))

	entryFees := longEntryFee.Add(shortEntryFee)
	exitFees := longExitFee.Add(shortExitFee)
	slippage := longSlip.Add(shortSlip)
	totalCosts := entryFees.Add(exitFees).Add(slippage)

	breakEvenHours := costcalc.BreakEvenHours(totalCosts, hourlyReturn)
	amortizationPeriods := clampFloat(math.Ceil(breakEvenHours), 1, 24)
	netReturn := hourlyReturn.Sub(core.NewAmount(totalCosts.Decimal().Div(decimal.NewFromFloat(amortizationPeriods))))

	// Step 8: acceptance gate.
	accepted := netReturn.Decimal().IsPositive() ||
		(breakEvenHours <= cfg.MaxBreakEvenHours && hourlyReturn.Decimal().IsPositive())
	if !accepted {
		return core.ExecutionPlan{}, kerr.New(kerr.Unprofitable,
			"projected net return and break-even horizon both fail the acceptance gate")
	}

	// Step 9: post-at-mark limit orders on both legs.
	longOrder := core.OrderLeg{
		Venue:      in.Opportunity.LongVenue,
		Symbol:     in.Opportunity.Symbol,
		Side:       core.SideLong,
		Type:       core.OrderTypeLimit,
		Size:       baseSize,
		LimitPrice: in.Opportunity.LongMark,
		TIF:        core.TIFGTC,
	}
	shortOrder := core.OrderLeg{
		Venue:      in.Opportunity.ShortVenue,
		Symbol:     in.Opportunity.Symbol,
		Side:       core.SideShort,
		Type:       core.OrderTypeLimit,
		Size:       baseSize,
		LimitPrice: in.Opportunity.ShortMark,
		TIF:        core.TIFGTC,
	}

	plan := core.ExecutionPlan{
		ID:          uuid.NewString(),
		Opportunity: in.Opportunity,
		LongOrder:   longOrder,
		ShortOrder:  shortOrder,

		PositionSizeBase: baseSize,
		PositionSizeUSD:  positionUSD,
		Leverage:         cfg.Leverage,

		EstimatedCosts: core.Costs{
			EntryFees: entryFees,
			ExitFees:  exitFees,
			Slippage:  slippage,
			Total:     totalCosts,
		},
		ExpectedNetReturnPeriod: core.FractionToPercentage(netReturn.Decimal().Div(positionUSD.Decimal())),
		BreakEvenHours:          breakEvenHoursDecimal(breakEvenHours),
		CreatedAt:               time.Now(),
		ScanID:                  in.ScanID,
	}
	return plan, nil
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.BalanceUsagePct.IsZero() {
		cfg.BalanceUsagePct = d.BalanceUsagePct
	}
	if cfg.Leverage.IsZero() {
		cfg.Leverage = d.Leverage
	}
	if cfg.MinPositionUSD.IsZero() {
		cfg.MinPositionUSD = d.MinPositionUSD
	}
	if cfg.APYFloor.IsZero() {
		cfg.APYFloor = d.APYFloor
	}
	if cfg.IntervalsPerDay <= 0 {
		cfg.IntervalsPerDay = d.IntervalsPerDay
	}
	if cfg.HoldingHours <= 0 {
		cfg.HoldingHours = d.HoldingHours
	}
	if cfg.MaxBreakEvenHours <= 0 {
		cfg.MaxBreakEvenHours = d.MaxBreakEvenHours
	}
	if cfg.FundingImpactGate.IsZero() {
		cfg.FundingImpactGate = d.FundingImpactGate
	}
	return cfg
}

// breakEvenHoursDecimal maps costcalc.BreakEvenHours's +Inf sentinel onto
// core.ExecutionPlan.BreakEvenHours's own negative-sentinel convention.
func breakEvenHoursDecimal(hours float64) decimal.Decimal {
	if math.IsInf(hours, 1) {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromFloat(hours)
}

func minAmount(a, b core.Amount) core.Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
