// Package venuetest provides a hand-written fake core.VenueAdapter for unit
// tests across the module. It is not a mock: callers configure canned
// responses per symbol with the With* builders and everything else errors.
package venuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
)

// Adapter is a fake core.VenueAdapter. Construct it with New: the With*
// builders write into maps that New allocates, so a zero value is not usable.
type Adapter struct {
	name string

	mu        sync.Mutex
	funding   map[string]core.FundingSnapshot
	marks     map[string]core.Price
	bidAsk    map[string][2]core.Price
	oi        map[string]core.Amount
	reserves  map[string]core.ReserveSnapshot
	positions []core.VenuePosition
	orders    []core.Order
	balance   core.Amount
	equity    core.Amount
	payments  []core.Payment

	orderAcks   map[string]core.OrderAck // keyed by ClientOrderID, fallback default below
	defaultAck  core.OrderAck
	placeErr    error
	nextOrderID int
}

// New creates a named fake adapter with empty canned data.
func New(name string) *Adapter {
	return &Adapter{
		name:     name,
		funding:  make(map[string]core.FundingSnapshot),
		marks:    make(map[string]core.Price),
		bidAsk:   make(map[string][2]core.Price),
		oi:       make(map[string]core.Amount),
		reserves: make(map[string]core.ReserveSnapshot),
		defaultAck: core.OrderAck{
			Status: core.OrderStatusFilled,
		},
	}
}

func (a *Adapter) Name() string { return a.name }

// WithFunding sets the canned funding snapshot for symbol, timestamped at
// the call time it's actually served (Scan passes its own `at`).
func (a *Adapter) WithFunding(symbol string, rate core.FundingRate, intervalsPerDay int) *Adapter {
	a.funding[symbol] = core.FundingSnapshot{
		Venue:           a.name,
		Symbol:          symbol,
		RatePerInterval: rate,
		IntervalsPerDay: intervalsPerDay,
	}
	return a
}

// WithMark sets the canned mark price for symbol and seeds a default
// +/-0.05% bid/ask spread around it, matching GetBestBidAsk's depth-unavailable fallback.
func (a *Adapter) WithMark(symbol string, mark core.Price) *Adapter {
	a.marks[symbol] = mark
	bid := core.NewPrice(mark.Decimal().Mul(decimal.NewFromFloat(0.9995)))
	ask := core.NewPrice(mark.Decimal().Mul(decimal.NewFromFloat(1.0005)))
	a.bidAsk[symbol] = [2]core.Price{bid, ask}
	return a
}

// WithBidAsk overrides the bid/ask pair seeded by WithMark.
func (a *Adapter) WithBidAsk(symbol string, bid, ask core.Price) *Adapter {
	a.bidAsk[symbol] = [2]core.Price{bid, ask}
	return a
}

func (a *Adapter) WithOpenInterest(symbol string, oi core.Amount) *Adapter {
	a.oi[symbol] = oi
	return a
}

func (a *Adapter) WithReserve(asset string, reserve core.ReserveSnapshot) *Adapter {
	a.reserves[asset] = reserve
	return a
}

func (a *Adapter) WithBalance(balance, equity core.Amount) *Adapter {
	a.balance, a.equity = balance, equity
	return a
}

func (a *Adapter) WithPositions(positions ...core.VenuePosition) *Adapter {
	a.positions = positions
	return a
}

func (a *Adapter) WithPlaceOrderError(err error) *Adapter {
	a.placeErr = err
	return a
}

func (a *Adapter) GetMarkPrice(_ context.Context, symbol string) (core.Price, error) {
	p, ok := a.marks[symbol]
	if !ok {
		return core.Price{}, fmt.Errorf("venuetest: no mark configured for %s", symbol)
	}
	return p, nil
}

func (a *Adapter) GetBestBidAsk(_ context.Context, symbol string) (core.Price, core.Price, error) {
	ba, ok := a.bidAsk[symbol]
	if !ok {
		return core.Price{}, core.Price{}, fmt.Errorf("venuetest: no bid/ask configured for %s", symbol)
	}
	return ba[0], ba[1], nil
}

func (a *Adapter) GetFundingRate(_ context.Context, symbol string, at time.Time) (core.FundingSnapshot, error) {
	snap, ok := a.funding[symbol]
	if !ok {
		return core.FundingSnapshot{}, fmt.Errorf("venuetest: no funding configured for %s", symbol)
	}
	snap.Timestamp = at
	snap.MarkPrice = a.marks[symbol]
	snap.OpenInterest = a.oi[symbol]
	return snap, nil
}

func (a *Adapter) GetOpenInterest(_ context.Context, symbol string) (core.Amount, error) {
	oi, ok := a.oi[symbol]
	if !ok {
		return core.Amount{}, fmt.Errorf("venuetest: no open interest configured for %s", symbol)
	}
	return oi, nil
}

func (a *Adapter) PlaceOrder(_ context.Context, req core.OrderRequest) (core.OrderAck, error) {
	if a.placeErr != nil {
		return core.OrderAck{}, a.placeErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextOrderID++
	ack := a.defaultAck
	if ack.VenueOrderID == "" {
		ack.VenueOrderID = fmt.Sprintf("%s-%d", a.name, a.nextOrderID)
	}
	if ack.FilledSize.IsZero() {
		ack.FilledSize = req.Size
	}
	if ack.AvgFillPrice.IsZero() {
		ack.AvgFillPrice = req.Price
	}
	return ack, nil
}

// WithDefaultAck overrides what PlaceOrder returns for every subsequent call.
func (a *Adapter) WithDefaultAck(ack core.OrderAck) *Adapter {
	a.defaultAck = ack
	return a
}

func (a *Adapter) CancelOrder(_ context.Context, _, _ string) error { return nil }
func (a *Adapter) CancelAll(_ context.Context, _ string) error      { return nil }

func (a *Adapter) GetOrderStatus(_ context.Context, venueOrderID string) (core.OrderStatus, error) {
	return a.defaultAck.Status, nil
}

func (a *Adapter) GetPositions(_ context.Context) ([]core.VenuePosition, error) {
	return a.positions, nil
}

func (a *Adapter) GetOpenOrders(_ context.Context, _ string) ([]core.Order, error) {
	return a.orders, nil
}

func (a *Adapter) GetBalance(_ context.Context) (core.Amount, error) { return a.balance, nil }
func (a *Adapter) GetEquity(_ context.Context) (core.Amount, error)  { return a.equity, nil }

func (a *Adapter) GetFundingPayments(_ context.Context, _, _ time.Time) ([]core.Payment, error) {
	return a.payments, nil
}

func (a *Adapter) GetReserveRates(_ context.Context, asset string) (core.ReserveSnapshot, error) {
	r, ok := a.reserves[asset]
	if !ok {
		return core.ReserveSnapshot{}, fmt.Errorf("venuetest: no reserve configured for %s", asset)
	}
	return r, nil
}

func (a *Adapter) Deposit(_ context.Context, _ string, _ decimal.Decimal) error  { return nil }
func (a *Adapter) Withdraw(_ context.Context, _ string, _ decimal.Decimal) error { return nil }
func (a *Adapter) Borrow(_ context.Context, _ string, _ decimal.Decimal) error   { return nil }
func (a *Adapter) Repay(_ context.Context, _ string, _ decimal.Decimal) error    { return nil }

var (
	_ core.VenueAdapter   = (*Adapter)(nil)
	_ core.LendingAdapter = (*Adapter)(nil)
)
