package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyType distinguishes the three leg pairings the aggregator can build.
type StrategyType string

const (
	StrategyPerpPerp StrategyType = "perp-perp"
	StrategyPerpSpot StrategyType = "perp-spot"
	StrategyPerpLend StrategyType = "perp-lend"
)

// OrderSide and OrderType mirror the venue-agnostic request shape every adapter requires.
type OrderSide string

const (
	SideLong  OrderSide = "long"
	SideShort OrderSide = "short"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
)

// OrderStatus enumerates the lifecycle a venue reports for one order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// OrderRequest is what the core hands a VenueAdapter to place one order.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Size          decimal.Decimal // base-asset units
	Price         Price           // ignored for MARKET
	TIF           TimeInForce
	ReduceOnly    bool
	ClientOrderID string
}

// OrderAck is the venue's immediate response to placeOrder.
type OrderAck struct {
	VenueOrderID string
	Status       OrderStatus
	FilledSize   decimal.Decimal
	AvgFillPrice Price
}

// Order is a venue-reported open order, as returned by getOpenOrders.
type Order struct {
	VenueOrderID  string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Size          decimal.Decimal
	Price         Price
	Status        OrderStatus
	PlacedAt      time.Time
}

// VenuePosition is a venue-reported position, as returned by getPositions.
type VenuePosition struct {
	Symbol string
	Side   OrderSide
	Size   decimal.Decimal
	Entry  Price
}

// Payment is one funding payment credited or debited to an account.
type Payment struct {
	Symbol string
	Amount Amount // signed: positive received, negative paid
	At     time.Time
}

// ReserveSnapshot is one per venue+asset+time for a lending market.
type ReserveSnapshot struct {
	Venue     string
	Asset     string
	SupplyAPR Percentage
	BorrowAPR Percentage
	// IncentiveAPRKnown is false whenever the venue's incentive-APR figure
	// is unavailable or unreliable; callers must not substitute a guessed
	// value (see SPEC_FULL.md design note on the incentive-APR placeholder).
	IncentiveAPRKnown bool
	IncentiveAPR      Percentage
	Timestamp         time.Time
}

// NetCarry is the lending leg's own yield net of its borrow cost.
func (r ReserveSnapshot) NetCarry() Percentage {
	return r.SupplyAPR.Sub(r.BorrowAPR)
}

// FundingSnapshot is one per venue+symbol+time for a perp market.
type FundingSnapshot struct {
	Venue           string
	Symbol          string
	RatePerInterval FundingRate
	IntervalsPerDay int
	MarkPrice       Price
	OpenInterest    Amount // notional USD
	Timestamp       time.Time
}

// AnnualizedAPR projects this snapshot's rate to an annual percentage.
func (f FundingSnapshot) AnnualizedAPR() Percentage {
	return f.RatePerInterval.AnnualizedAPR(f.IntervalsPerDay)
}

// ArbitrageOpportunity is ephemeral: built fresh each scan, never persisted.
type ArbitrageOpportunity struct {
	Symbol       string
	Strategy     StrategyType
	LongVenue    string
	ShortVenue   string
	LongRate     FundingRate
	ShortRate    FundingRate
	Spread       FundingRate // shortRate - longRate, see spread.go for the sign convention
	ExpectedAPR  Percentage
	LongMark     Price
	ShortMark    Price
	LongOI       Amount
	ShortOI      Amount
	Timestamp    time.Time

	// Informational ranking fields. Never gate acceptance.
	QualityScore   decimal.Decimal
	StabilityScore decimal.Decimal
	ToxicBasis     bool
}

// OrderLeg describes one side of a two-leg plan.
type OrderLeg struct {
	Venue      string
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Size       decimal.Decimal // base-asset units; identical on both legs at construction
	LimitPrice Price
	TIF        TimeInForce
}

// Costs is the estimated-cost breakdown for one ExecutionPlan.
type Costs struct {
	EntryFees Amount
	ExitFees  Amount
	Slippage  Amount
	Total     Amount
}

// ExecutionPlan is a fully validated, ready-to-submit two-leg trade.
type ExecutionPlan struct {
	ID                      string
	Opportunity             ArbitrageOpportunity
	LongOrder               OrderLeg
	ShortOrder              OrderLeg
	PositionSizeBase        decimal.Decimal
	PositionSizeUSD         Amount
	Leverage                decimal.Decimal
	EstimatedCosts          Costs
	ExpectedNetReturnPeriod Percentage
	BreakEvenHours          decimal.Decimal // negative sentinel used for +Inf, see planner package
	CreatedAt               time.Time
	ScanID                  int64
}

// PositionStatus is the persisted lifecycle state of a live arbitrage position.
type PositionStatus string

const (
	PositionOpening  PositionStatus = "opening"
	PositionOpen     PositionStatus = "open"
	PositionRescuing PositionStatus = "rescuing"
	PositionClosing  PositionStatus = "closing"
	PositionClosed   PositionStatus = "closed"
	PositionFailed   PositionStatus = "failed"
)

// Position is the persisted record of one leg of a delta-neutral pair (or,
// for the leveraged single-venue variant, the sole perp leg).
type Position struct {
	ID         string
	StrategyID string
	Venue      string
	Symbol     string
	Side       OrderSide
	Size       decimal.Decimal
	EntryPrice Price
	Collateral Amount
	Borrowed   Amount
	OpenedAt   time.Time
	Status     PositionStatus
}

// HealthFactor is the liquidation-distance metric for a leveraged lending position.
type HealthFactor struct{ d decimal.Decimal }

// Infinite HF (no debt) is represented as a very large, but finite, decimal
// so comparisons behave without special-casing every call site.
var infiniteHF = decimal.New(1, 12)

func NewHealthFactor(collateralUSD, liquidationThreshold, debtUSD decimal.Decimal) HealthFactor {
	if debtUSD.IsZero() {
		return HealthFactor{infiniteHF}
	}
	return HealthFactor{collateralUSD.Mul(liquidationThreshold).Div(debtUSD)}
}

func (h HealthFactor) Decimal() decimal.Decimal    { return h.d }
func (h HealthFactor) IsInfinite() bool            { return h.d.Equal(infiniteHF) }
func (h HealthFactor) LessThan(f decimal.Decimal) bool    { return h.d.LessThan(f) }
func (h HealthFactor) GreaterThanOrEqual(f decimal.Decimal) bool { return h.d.GreaterThanOrEqual(f) }
func (h HealthFactor) String() string              { return h.d.StringFixed(4) }

// SingleLegIncident records a stuck single-leg submission from the execution engine's
// "partial" state and the scheduler's RetrySingleLeg loop.
type SingleLegIncident struct {
	ID           string
	PlanID       string
	FilledVenue  string
	FilledSide   OrderSide
	FilledSize   decimal.Decimal
	HangingVenue string
	HangingSide  OrderSide
	RaisedAt     time.Time
	ResolvedAt   *time.Time
}
