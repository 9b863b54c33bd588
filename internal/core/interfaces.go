package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Logger is the narrow structured-logging surface every component depends
// on; production code gets a concrete implementation from the logging
// package (zap + OTel bridge), tests use a trivial fake.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Fatal(msg string, kv ...any)
	With(kv ...any) Logger
}

// VenueAdapter is the uniform capability set required of every perp
// venue. It is a contract only: this module ships no concrete
// implementation, which lives outside this module's scope. Implementations
// live outside this repository; internal/venuetest provides a fake used
// exclusively by tests.
type VenueAdapter interface {
	Name() string

	GetMarkPrice(ctx context.Context, symbol string) (Price, error)
	// GetBestBidAsk must fall back to mark*(1±0.0005) if depth is unavailable.
	GetBestBidAsk(ctx context.Context, symbol string) (bid, ask Price, err error)
	GetFundingRate(ctx context.Context, symbol string, at time.Time) (FundingSnapshot, error)
	GetOpenInterest(ctx context.Context, symbol string) (Amount, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, venueOrderID string) error
	CancelAll(ctx context.Context, symbol string) error
	GetOrderStatus(ctx context.Context, venueOrderID string) (OrderStatus, error)

	GetPositions(ctx context.Context) ([]VenuePosition, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	GetBalance(ctx context.Context) (Amount, error)
	GetEquity(ctx context.Context) (Amount, error)

	GetFundingPayments(ctx context.Context, from, to time.Time) ([]Payment, error)
}

// LendingAdapter extends VenueAdapter for venues that also expose a lending
// market (the perp-lend strategy and the leveraged DeltaNeutralController).
type LendingAdapter interface {
	VenueAdapter

	GetReserveRates(ctx context.Context, asset string) (ReserveSnapshot, error)
	Deposit(ctx context.Context, asset string, amount decimal.Decimal) error
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal) error
	Borrow(ctx context.Context, asset string, amount decimal.Decimal) error
	Repay(ctx context.Context, asset string, amount decimal.Decimal) error
}

// HistoricalStore is the sliding-window time-series query surface.
type HistoricalStore interface {
	RecordFunding(snap FundingSnapshot)
	RecordSpread(symbol, longVenue, shortVenue string, spread FundingRate, at time.Time)

	// WeightedAverageRate applies exponential weighting with half-life H,
	// falling back to the current rate if fewer than Nmin samples exist.
	WeightedAverageRate(venue, symbol string, now time.Time) (FundingRate, bool)
	AverageSpread(symbol, longVenue, shortVenue string, window time.Duration) (FundingRate, int)
	SpreadVolatilityMetrics(symbol, longVenue, shortVenue string, window time.Duration) VolatilityMetrics
	HistoricalData(venue, symbol string) []FundingSnapshot
}

// VolatilityMetrics is the spreadVolatilityMetrics return shape.
type VolatilityMetrics struct {
	StabilityScore   decimal.Decimal // in [0,1]
	MaxHourlyChange  decimal.Decimal
	ReversalCount    int
	DropsToZeroCount int
	SampleCount      int
}
