// Package deltaneutral implements DeltaNeutralController: the
// leveraged single-venue "borrow asset, short same asset on perp" variant.
// It is a pure decision function — given the current funding/borrow rates
// and the position's health, it returns the single next action the
// controller should take. Callers (the scheduler's EmergencyHealthCheck
// and CheckPositionBalance loops) execute that action through the
// LendingAdapter/VenueAdapter and internal/execution, then re-derive state
// and decide again.
//
// Grounded on internal/risk/margin/marginsim.go's simulate-before-acting
// posture (health computed from a snapshot, never mutated in place) and on
// internal/engine/arbengine/engine.go's graduated response to account
// health (reduce exposure before emergency exit), generalized into the
// rescue -> reduce -> deleverage escalation ladder.
package deltaneutral

import (
	"time"

	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
)

// Thresholds tunes the controller.
type Thresholds struct {
	TargetHF    decimal.Decimal
	MinHF       decimal.Decimal
	WarnHF      decimal.Decimal
	EmergencyHF decimal.Decimal

	LiqThreshold decimal.Decimal // collateral liquidation threshold fed into the leverage formula
	MaxLeverage  decimal.Decimal

	FundingMin           core.FundingRate // f must be at least this to open
	CarryMin             core.Percentage  // netCarryAPY must clear this to open
	FundingFlipThreshold core.FundingRate // f below this triggers close

	MaxPositionUSD    core.Amount
	DriftLimit        decimal.Decimal
	RebalanceCooldown time.Duration

	RescueMaxFractionOfPnL decimal.Decimal
	RescueMinUSD           core.Amount

	MarginFloorFraction decimal.Decimal // perp margin below this fraction of notional triggers reverse-rescue/close
	ReverseRescueMinHF  decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		TargetHF:               decimal.NewFromFloat(1.5),
		MinHF:                  decimal.NewFromFloat(1.2),
		WarnHF:                 decimal.NewFromFloat(1.35),
		EmergencyHF:            decimal.NewFromFloat(1.05),
		LiqThreshold:           decimal.NewFromFloat(0.825),
		MaxLeverage:            decimal.NewFromFloat(3.0),
		FundingMin:             core.NewFundingRate(decimal.Zero),
		CarryMin:               core.PercentageFromFloat(5),
		FundingFlipThreshold:   core.NewFundingRate(decimal.Zero),
		MaxPositionUSD:         core.AmountFromFloat(500_000),
		DriftLimit:             decimal.NewFromFloat(0.02),
		RebalanceCooldown:      30 * time.Minute,
		RescueMaxFractionOfPnL: decimal.NewFromFloat(0.9),
		RescueMinUSD:           core.AmountFromFloat(10),
		MarginFloorFraction:    decimal.NewFromFloat(0.05),
		ReverseRescueMinHF:     decimal.NewFromFloat(2.0),
	}
}

// State is one snapshot of the controller's inputs.
type State struct {
	HasPosition bool
	HF          core.HealthFactor

	CollateralUSD     core.Amount
	PerpMarginUSD     core.Amount
	PerpNotionalUSD   core.Amount
	PerpUnrealizedPnL core.Amount

	SpotSizeBase decimal.Decimal // size of the borrowed/spot leg
	PerpSizeBase decimal.Decimal

	FundingRate     core.FundingRate
	IntervalsPerDay int
	BorrowAPR       core.Percentage
}

// NetCarryAPY is the perp funding leg's annualized yield net of the
// lending borrow cost.
func (s State) NetCarryAPY() core.Percentage {
	return s.FundingRate.AnnualizedAPR(s.IntervalsPerDay).Sub(s.BorrowAPR)
}

// ActionKind is one rung of the escalation ladder.
type ActionKind string

const (
	ActionNone                  ActionKind = "none"
	ActionOpen                  ActionKind = "open"
	ActionRescueAndRelever      ActionKind = "rescue_and_relever"
	ActionPartialRescue         ActionKind = "partial_rescue"
	ActionReduceLeverage        ActionKind = "reduce_leverage"
	ActionEmergencyDeleverage   ActionKind = "emergency_deleverage"
	ActionReverseRescueWithdraw ActionKind = "reverse_rescue_withdraw"
	ActionClose                 ActionKind = "close"
	ActionRebalanceDrift        ActionKind = "rebalance_drift"
)

// Decision is the controller's single next move.
type Decision struct {
	Action   ActionKind
	SizeUSD  core.Amount
	Leverage decimal.Decimal
	Reason   string
}

// Decide evaluates State against Thresholds and returns the next action.
// lastRebalanceAt/now gate the drift-rebalance cooldown.
func Decide(cfg Thresholds, st State, lastRebalanceAt, now time.Time) Decision {
	if !st.HasPosition {
		return decideEntry(cfg, st)
	}

	if st.HF.LessThan(cfg.EmergencyHF) {
		if perpProfitable(st) {
			return Decision{Action: ActionRescueAndRelever, Reason: "HF below emergency threshold, perp leg profitable, attempting rescue-and-relever"}
		}
		return Decision{Action: ActionEmergencyDeleverage, Reason: "HF below emergency threshold and perp leg not profitable"}
	}

	if st.HF.LessThan(cfg.MinHF) {
		return Decision{Action: ActionPartialRescue, Reason: "HF below minimum threshold, attempting partial rescue"}
	}

	if cfg.FundingFlipThreshold.GreaterThan(st.FundingRate) || st.NetCarryAPY().Decimal().IsNegative() {
		return Decision{Action: ActionClose, Reason: "funding rate flipped below threshold or net carry turned negative"}
	}

	if marginTooThin(cfg, st) {
		if st.HF.GreaterThanOrEqual(cfg.ReverseRescueMinHF) {
			return Decision{Action: ActionReverseRescueWithdraw, Reason: "perp margin below floor fraction of notional, HF allows a reverse rescue"}
		}
		return Decision{Action: ActionClose, Reason: "perp margin below floor fraction of notional and HF too low for reverse rescue"}
	}

	if driftExceeded(cfg, st) && now.Sub(lastRebalanceAt) >= cfg.RebalanceCooldown {
		return Decision{Action: ActionRebalanceDrift, Reason: "spot/perp size drift exceeds limit and cooldown has elapsed"}
	}

	return Decision{Action: ActionNone}
}

func decideEntry(cfg Thresholds, st State) Decision {
	if cfg.FundingMin.GreaterThan(st.FundingRate) {
		return Decision{Action: ActionNone, Reason: "funding rate below minimum to open"}
	}
	if cfg.CarryMin.GreaterThan(st.NetCarryAPY()) {
		return Decision{Action: ActionNone, Reason: "net carry APY below minimum to open"}
	}
	leverage := OptimalLeverage(cfg)
	sizeUSD := st.CollateralUSD.Mul(leverage)
	if sizeUSD.GreaterThan(cfg.MaxPositionUSD) {
		sizeUSD = cfg.MaxPositionUSD
	}
	return Decision{Action: ActionOpen, SizeUSD: sizeUSD, Leverage: leverage, Reason: "funding and net carry clear entry thresholds"}
}

// OptimalLeverage computes the leverage that lands the position's health
// factor on cfg.TargetHF at entry, capped at cfg.MaxLeverage.
func OptimalLeverage(cfg Thresholds) decimal.Decimal {
	l := decimal.NewFromInt(1).Add(cfg.LiqThreshold.Div(cfg.TargetHF))
	if l.GreaterThan(cfg.MaxLeverage) {
		return cfg.MaxLeverage
	}
	return l
}

// RescueSize bounds a rescue-and-releverage or partial-rescue realization
// to cfg.RescueMaxFractionOfPnL of the perp leg's unrealized PnL, rejecting
// the rescue outright if even that capped amount is below RescueMinUSD.
func RescueSize(cfg Thresholds, unrealizedPnL core.Amount) (core.Amount, bool) {
	capped := unrealizedPnL.Mul(cfg.RescueMaxFractionOfPnL)
	if capped.LessThan(cfg.RescueMinUSD) {
		return core.Amount{}, false
	}
	return capped, true
}

// NextFallback returns the next coarser action in the escalation ladder,
// for when `action` itself cannot be completed ("all rescue
// operations are transactional at the plan level").
func NextFallback(action ActionKind) ActionKind {
	switch action {
	case ActionRescueAndRelever:
		return ActionEmergencyDeleverage
	case ActionPartialRescue:
		return ActionReduceLeverage
	case ActionReduceLeverage:
		return ActionEmergencyDeleverage
	case ActionReverseRescueWithdraw:
		return ActionClose
	default:
		return ActionEmergencyDeleverage
	}
}

func perpProfitable(st State) bool {
	return st.PerpUnrealizedPnL.Decimal().IsPositive()
}

func marginTooThin(cfg Thresholds, st State) bool {
	if st.PerpNotionalUSD.IsZero() {
		return false
	}
	floor := st.PerpNotionalUSD.Mul(cfg.MarginFloorFraction)
	return st.PerpMarginUSD.LessThan(floor)
}

func driftExceeded(cfg Thresholds, st State) bool {
	if st.SpotSizeBase.IsZero() {
		return false
	}
	drift := st.SpotSizeBase.Sub(st.PerpSizeBase).Abs().Div(st.SpotSizeBase)
	return drift.GreaterThan(cfg.DriftLimit)
}
