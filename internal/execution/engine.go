// Package execution implements ExecutionEngine: the two-legged
// order-placement state machine that turns a validated ExecutionPlan into a
// pair of filled positions, or detects and resolves a stuck single leg.
//
// Grounded on the corpus's ParallelExecutor/SequenceExecutor
// (internal/trading/execution/executor.go) for the place-both-legs,
// compensate-on-failure shape, and on
// internal/engine/arbengine/engine.go's executeEntry for the
// atomic-neutrality idea of flattening a filled leg when its partner can't
// be completed — generalized here into an explicit state machine with a
// bounded partial-fill timer instead of an immediate same-call compensation.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/kerr"
	"fundingkeeper/internal/retry"
)

// State is one node of the per-position state machine this package defines.
type State string

const (
	StateIdle        State = "idle"
	StateSubmitting  State = "submitting"
	StatePartial     State = "partial"
	StateOpen        State = "open"
	StateClosing     State = "closing"
	StateClosed      State = "closed"
	StateReconciling State = "reconciling"
	StateFailed      State = "failed"
)

// DefaultPartialTimeout is how long the partial state waits for the lagging
// leg before cutting losses and flattening the filled one.
const DefaultPartialTimeout = 60 * time.Second

// DefaultDriftLimit is the max fractional size mismatch tolerated between
// two open legs before it's worth flagging.
var DefaultDriftLimit = decimal.NewFromFloat(0.02)

// DefaultRateLimitBackoff is how long submitting waits before its one retry
// after a venue reports RateLimited.
const DefaultRateLimitBackoff = 2 * time.Second

const partialPollInterval = 2 * time.Second

// Config tunes the engine's timers.
type Config struct {
	PartialTimeout   time.Duration
	DriftLimit       decimal.Decimal
	RateLimitBackoff time.Duration
	PollInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		PartialTimeout:   DefaultPartialTimeout,
		DriftLimit:       DefaultDriftLimit,
		RateLimitBackoff: DefaultRateLimitBackoff,
		PollInterval:     partialPollInterval,
	}
}

// Engine runs the two-legged state machine against a set of venues.
// Per-position transitions are serialized; different position ids proceed
// in parallel.
type Engine struct {
	cfg    Config
	venues map[string]core.VenueAdapter
	logger core.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// dbosCtx, when set via EnableDurability, routes Open/Close through
	// checkpointed workflows (dbos.go) instead of the plain-Go path below.
	dbosCtx dbos.DBOSContext
}

func New(cfg Config, venues map[string]core.VenueAdapter, logger core.Logger) *Engine {
	if cfg.PartialTimeout <= 0 {
		cfg.PartialTimeout = DefaultPartialTimeout
	}
	if cfg.DriftLimit.IsZero() {
		cfg.DriftLimit = DefaultDriftLimit
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = partialPollInterval
	}
	return &Engine{
		cfg:    cfg,
		venues: venues,
		logger: logger.With("component", "execution_engine"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(positionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[positionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[positionID] = l
	}
	return l
}

// legAttempt is one leg's submission outcome.
type legAttempt struct {
	venue  string
	symbol string
	side   core.OrderSide
	req    core.OrderRequest
	ack    core.OrderAck
	err    error
}

func (a legAttempt) filled() bool {
	return a.err == nil && (a.ack.Status == core.OrderStatusFilled || a.ack.Status == core.OrderStatusPartiallyFilled)
}

// OpenResult is Open's outcome: either both legs open, one leg was
// flattened back to flat after its partner hung, or both legs failed.
type OpenResult struct {
	State     State
	Positions []core.Position
	Incident  *core.SingleLegIncident
	DriftOK   bool
}

// Open runs submitting -> (open | partial -> open|flat) for one plan. Plan
// transitions are serialized on plan.ID.
func (e *Engine) Open(ctx context.Context, plan core.ExecutionPlan) (OpenResult, error) {
	lock := e.lockFor(plan.ID)
	lock.Lock()
	defer lock.Unlock()

	if e.dbosCtx != nil {
		return e.openDurable(plan)
	}

	longAdapter, ok := e.venues[plan.LongOrder.Venue]
	if !ok {
		return OpenResult{State: StateFailed}, kerr.New(kerr.InvalidRequest, "no adapter for long venue "+plan.LongOrder.Venue)
	}
	shortAdapter, ok := e.venues[plan.ShortOrder.Venue]
	if !ok {
		return OpenResult{State: StateFailed}, kerr.New(kerr.InvalidRequest, "no adapter for short venue "+plan.ShortOrder.Venue)
	}

	var wg sync.WaitGroup
	attempts := make([]legAttempt, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		attempts[0] = e.submitLeg(ctx, longAdapter, plan.LongOrder, plan.ID+"-long")
	}()
	go func() {
		defer wg.Done()
		attempts[1] = e.submitLeg(ctx, shortAdapter, plan.ShortOrder, plan.ID+"-short")
	}()
	wg.Wait()

	longLeg, shortLeg := attempts[0], attempts[1]
	switch {
	case longLeg.filled() && shortLeg.filled():
		return e.promoteToOpen(plan, longLeg, shortLeg), nil

	case longLeg.filled() != shortLeg.filled():
		filled, hanging, filledAdapter := longLeg, shortLeg, longAdapter
		if shortLeg.filled() {
			filled, hanging, filledAdapter = shortLeg, longLeg, shortAdapter
		}
		hangingAdapter := shortAdapter
		if filled.venue == shortLeg.venue {
			hangingAdapter = longAdapter
		}
		return e.resolvePartial(ctx, plan, filled, hanging, filledAdapter, hangingAdapter)

	default:
		return OpenResult{State: StateFailed}, kerr.New(kerr.Fatal, "both legs failed to fill during submission")
	}
}

func (e *Engine) submitLeg(ctx context.Context, adapter core.VenueAdapter, leg core.OrderLeg, clientOrderID string) legAttempt {
	req := core.OrderRequest{
		Symbol:        leg.Symbol,
		Side:          leg.Side,
		Type:          leg.Type,
		Size:          leg.Size,
		Price:         leg.LimitPrice,
		TIF:           leg.TIF,
		ReduceOnly:    false,
		ClientOrderID: clientOrderID,
	}
	attempt := legAttempt{venue: leg.Venue, symbol: leg.Symbol, side: leg.Side, req: req}

	ack, err := adapter.PlaceOrder(ctx, req)
	if err != nil && kerr.Is(err, kerr.RateLimited) {
		e.logger.Warn("leg rate limited, retrying once after backoff", "venue", leg.Venue, "clientOrderId", clientOrderID)
		retryErr := retry.Once(ctx, e.cfg.RateLimitBackoff, func() error {
			var innerErr error
			ack, innerErr = adapter.PlaceOrder(ctx, req)
			return innerErr
		})
		err = retryErr
	}
	attempt.ack, attempt.err = ack, err
	return attempt
}

func (e *Engine) promoteToOpen(plan core.ExecutionPlan, longLeg, shortLeg legAttempt) OpenResult {
	now := time.Now()
	positions := []core.Position{
		{
			ID:         uuid.NewString(),
			StrategyID: plan.ID,
			Venue:      plan.LongOrder.Venue,
			Symbol:     plan.LongOrder.Symbol,
			Side:       core.SideLong,
			Size:       longLeg.ack.FilledSize,
			EntryPrice: longLeg.ack.AvgFillPrice,
			OpenedAt:   now,
			Status:     core.PositionOpen,
		},
		{
			ID:         uuid.NewString(),
			StrategyID: plan.ID,
			Venue:      plan.ShortOrder.Venue,
			Symbol:     plan.ShortOrder.Symbol,
			Side:       core.SideShort,
			Size:       shortLeg.ack.FilledSize,
			EntryPrice: shortLeg.ack.AvgFillPrice,
			OpenedAt:   now,
			Status:     core.PositionOpen,
		},
	}
	driftOK := withinDrift(longLeg.ack.FilledSize, shortLeg.ack.FilledSize, e.cfg.DriftLimit)
	if !driftOK {
		e.logger.Warn("leg size drift exceeds limit", "planId", plan.ID, "longSize", longLeg.ack.FilledSize.String(), "shortSize", shortLeg.ack.FilledSize.String())
	}
	return OpenResult{State: StateOpen, Positions: positions, DriftOK: driftOK}
}

// resolvePartial implements the partial state: poll the hanging leg up
// to cfg.PartialTimeout; if it fills, promote to open; otherwise cancel it
// and flatten the filled leg with a market-taker reducing order.
func (e *Engine) resolvePartial(ctx context.Context, plan core.ExecutionPlan, filled, hanging legAttempt, filledAdapter, hangingAdapter core.VenueAdapter) (OpenResult, error) {
	e.logger.Warn("single leg hanging, entering partial state", "planId", plan.ID, "filledVenue", filled.venue, "hangingVenue", hanging.venue)

	deadline := time.Now().Add(e.cfg.PartialTimeout)
	for time.Now().Before(deadline) {
		if hanging.err == nil && hanging.ack.VenueOrderID != "" {
			status, err := hangingAdapter.GetOrderStatus(ctx, hanging.ack.VenueOrderID)
			if err == nil && (status == core.OrderStatusFilled || status == core.OrderStatusPartiallyFilled) {
				hanging.ack.Status = status
				longLeg, shortLeg := pickByVenue(filled, hanging, plan.LongOrder.Venue)
				return e.promoteToOpen(plan, longLeg, shortLeg), nil
			}
		}
		select {
		case <-ctx.Done():
			return OpenResult{State: StateFailed}, ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}
	}

	incident := &core.SingleLegIncident{
		ID:           uuid.NewString(),
		PlanID:       plan.ID,
		FilledVenue:  filled.venue,
		FilledSide:   filled.side,
		FilledSize:   filled.ack.FilledSize,
		HangingVenue: hanging.venue,
		HangingSide:  hanging.side,
		RaisedAt:     time.Now(),
	}

	if hanging.err == nil && hanging.ack.VenueOrderID != "" {
		if err := hangingAdapter.CancelOrder(ctx, hanging.symbol, hanging.ack.VenueOrderID); err != nil {
			e.logger.Error("failed to cancel hanging leg order", "venue", hanging.venue, "error", err)
		}
	}

	flattenReq := core.OrderRequest{
		Symbol:        filled.symbol,
		Side:          oppositeSide(filled.side),
		Type:          core.OrderTypeMarket,
		Size:          filled.ack.FilledSize,
		ReduceOnly:    true,
		ClientOrderID: plan.ID + "-flatten",
	}
	if _, err := filledAdapter.PlaceOrder(ctx, flattenReq); err != nil {
		e.logger.Error("CRITICAL: failed to flatten filled leg after partial timeout", "venue", filled.venue, "error", err)
		return OpenResult{State: StateFailed, Incident: incident}, kerr.Wrap(kerr.SingleLegHanging, "flattening the filled leg failed, manual intervention required", err)
	}

	resolvedAt := time.Now()
	incident.ResolvedAt = &resolvedAt
	return OpenResult{State: StateIdle, Incident: incident}, kerr.New(kerr.SingleLegHanging, "partner leg never filled, flattened back to flat")
}

// pickByVenue orders (filled, hanging) into (long, short) by venue name so
// promoteToOpen's position order matches the plan's long/short legs.
func pickByVenue(filled, hanging legAttempt, longVenue string) (legAttempt, legAttempt) {
	if filled.venue == longVenue {
		return filled, hanging
	}
	return hanging, filled
}

// Close cancels any resting orders for the pair on both venues, then
// submits equal-size reducing orders in the opposite direction on each leg.
func (e *Engine) Close(ctx context.Context, planID string, positions []core.Position) (OpenResult, error) {
	lock := e.lockFor(planID)
	lock.Lock()
	defer lock.Unlock()

	if len(positions) != 2 {
		return OpenResult{State: StateFailed}, kerr.New(kerr.InvalidRequest, "Close requires exactly two positions")
	}
	long, short := positions[0], positions[1]
	if long.Side != core.SideLong {
		long, short = short, long
	}

	if e.dbosCtx != nil {
		return e.closeDurable(planID, long, short)
	}

	longAdapter, ok := e.venues[long.Venue]
	if !ok {
		return OpenResult{State: StateFailed}, kerr.New(kerr.InvalidRequest, "no adapter for long venue "+long.Venue)
	}
	shortAdapter, ok := e.venues[short.Venue]
	if !ok {
		return OpenResult{State: StateFailed}, kerr.New(kerr.InvalidRequest, "no adapter for short venue "+short.Venue)
	}

	_ = longAdapter.CancelAll(ctx, long.Symbol)
	_ = shortAdapter.CancelAll(ctx, short.Symbol)

	var wg sync.WaitGroup
	attempts := make([]legAttempt, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		attempts[0] = e.submitLeg(ctx, longAdapter, core.OrderLeg{
			Venue: long.Venue, Symbol: long.Symbol, Side: core.SideShort,
			Type: core.OrderTypeMarket, Size: long.Size,
		}, planID+"-close-long")
	}()
	go func() {
		defer wg.Done()
		attempts[1] = e.submitLeg(ctx, shortAdapter, core.OrderLeg{
			Venue: short.Venue, Symbol: short.Symbol, Side: core.SideLong,
			Type: core.OrderTypeMarket, Size: short.Size,
		}, planID+"-close-short")
	}()
	wg.Wait()

	longClose, shortClose := attempts[0], attempts[1]
	if !longClose.filled() || !shortClose.filled() {
		filled, hanging, filledAdapter, hangingAdapter := longClose, shortClose, longAdapter, shortAdapter
		if shortClose.filled() {
			filled, hanging, filledAdapter, hangingAdapter = shortClose, longClose, shortAdapter, longAdapter
		}
		return e.resolvePartial(ctx, core.ExecutionPlan{ID: planID, LongOrder: core.OrderLeg{Venue: long.Venue}}, filled, hanging, filledAdapter, hangingAdapter)
	}

	return OpenResult{
		State: StateClosed,
		Positions: []core.Position{
			{ID: long.ID, StrategyID: planID, Venue: long.Venue, Symbol: long.Symbol, Side: core.SideLong, Status: core.PositionClosed},
			{ID: short.ID, StrategyID: planID, Venue: short.Venue, Symbol: short.Symbol, Side: core.SideShort, Status: core.PositionClosed},
		},
	}, nil
}

func oppositeSide(side core.OrderSide) core.OrderSide {
	if side == core.SideLong {
		return core.SideShort
	}
	return core.SideLong
}

func withinDrift(longSize, shortSize decimal.Decimal, driftLimit decimal.Decimal) bool {
	avg := longSize.Add(shortSize).Div(decimal.NewFromInt(2))
	if avg.IsZero() {
		return true
	}
	drift := longSize.Sub(shortSize).Abs().Div(avg)
	return !drift.GreaterThan(driftLimit)
}
