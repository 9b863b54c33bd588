// Durable entry/exit. Grounded on internal/engine/durable/arbitrage_workflow.go's
// ArbitrageWorkflows: ExecuteSpotPerpEntry wraps each leg's PlaceOrder in a
// dbos step and unwinds the filled leg as a further step if its partner
// fails; ExecuteSpotPerpExit launches one sub-workflow per leg and joins
// them. This file adapts that same shape onto the engine's own
// long/short legs instead of the teacher's spot/perp pair, so a process
// crash mid-entry resumes from its last completed step instead of
// resubmitting an already-filled leg.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/kerr"
)

// EnableDurability switches Open and Close onto dbos-checkpointed
// workflows: every order-mutating venue call becomes a durable step, so a
// restart resumes from the last completed step rather than re-submitting
// an already-filled leg. Without a call to this, the engine runs the
// plain-Go path unconditionally.
func (e *Engine) EnableDurability(dbosCtx dbos.DBOSContext) {
	e.dbosCtx = dbosCtx
}

func (e *Engine) openDurable(plan core.ExecutionPlan) (OpenResult, error) {
	handle, err := e.dbosCtx.RunWorkflow(e.dbosCtx, e.entryWorkflow, plan)
	if err != nil {
		return OpenResult{State: StateFailed}, err
	}
	res, err := handle.GetResult()
	if err != nil {
		return OpenResult{State: StateFailed}, err
	}
	result, ok := res.(OpenResult)
	if !ok {
		return OpenResult{State: StateFailed}, kerr.New(kerr.Fatal, "durable entry workflow returned unexpected result type")
	}
	return result, nil
}

// entryWorkflow is the durable counterpart of Open's submitting state. It
// submits the long leg, then the short leg, each as its own step; if the
// short leg doesn't fill, it unwinds the long leg as a further step rather
// than polling for a lagging partner the way the plain-Go partial state
// does, matching ExecuteSpotPerpEntry's immediate-compensation shape.
func (e *Engine) entryWorkflow(ctx dbos.DBOSContext, input any) (any, error) {
	plan, ok := input.(core.ExecutionPlan)
	if !ok {
		return nil, kerr.New(kerr.Fatal, "entryWorkflow: unexpected input type")
	}

	longAdapter, ok := e.venues[plan.LongOrder.Venue]
	if !ok {
		return OpenResult{State: StateFailed}, kerr.New(kerr.InvalidRequest, "no adapter for long venue "+plan.LongOrder.Venue)
	}
	shortAdapter, ok := e.venues[plan.ShortOrder.Venue]
	if !ok {
		return OpenResult{State: StateFailed}, kerr.New(kerr.InvalidRequest, "no adapter for short venue "+plan.ShortOrder.Venue)
	}

	longLeg, err := e.submitLegStep(ctx, longAdapter, plan.LongOrder, plan.ID+"-long")
	if err != nil || !longLeg.filled() {
		return OpenResult{State: StateFailed}, kerr.Wrap(kerr.Fatal, "long leg failed to fill during durable entry", err)
	}

	shortLeg, err := e.submitLegStep(ctx, shortAdapter, plan.ShortOrder, plan.ID+"-short")
	if err == nil && shortLeg.filled() {
		return e.promoteToOpen(plan, longLeg, shortLeg), nil
	}

	incident := &core.SingleLegIncident{
		ID:           uuid.NewString(),
		PlanID:       plan.ID,
		FilledVenue:  longLeg.venue,
		FilledSide:   longLeg.side,
		FilledSize:   longLeg.ack.FilledSize,
		HangingVenue: plan.ShortOrder.Venue,
		HangingSide:  plan.ShortOrder.Side,
		RaisedAt:     time.Now(),
	}

	flattenReq := core.OrderRequest{
		Symbol:        longLeg.symbol,
		Side:          oppositeSide(longLeg.side),
		Type:          core.OrderTypeMarket,
		Size:          longLeg.ack.FilledSize,
		ReduceOnly:    true,
		ClientOrderID: plan.ID + "-unwind",
	}
	if _, err := ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		return longAdapter.PlaceOrder(stepCtx, flattenReq)
	}); err != nil {
		return OpenResult{State: StateFailed, Incident: incident}, kerr.Wrap(kerr.SingleLegHanging, "durable entry: failed to unwind filled long leg", err)
	}

	resolvedAt := time.Now()
	incident.ResolvedAt = &resolvedAt
	return OpenResult{State: StateIdle, Incident: incident}, kerr.New(kerr.SingleLegHanging, "short leg failed during durable entry, unwound long leg")
}

func (e *Engine) submitLegStep(ctx dbos.DBOSContext, adapter core.VenueAdapter, leg core.OrderLeg, clientOrderID string) (legAttempt, error) {
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

	res, err := ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		return adapter.PlaceOrder(stepCtx, req)
	})
	if err != nil {
		attempt.err = err
		return attempt, err
	}
	ack, ok := res.(core.OrderAck)
	if !ok {
		attempt.err = kerr.New(kerr.Fatal, "submitLegStep: step returned unexpected type")
		return attempt, attempt.err
	}
	attempt.ack = ack
	return attempt, nil
}

// closeInput is closeWorkflow's input: venue adapters aren't carried across
// the durable boundary, only the plain data needed to look them up again.
type closeInput struct {
	PlanID string
	Long   core.Position
	Short  core.Position
}

func (e *Engine) closeDurable(planID string, long, short core.Position) (OpenResult, error) {
	handle, err := e.dbosCtx.RunWorkflow(e.dbosCtx, e.exitWorkflow, closeInput{PlanID: planID, Long: long, Short: short})
	if err != nil {
		return OpenResult{State: StateFailed}, err
	}
	res, err := handle.GetResult()
	if err != nil {
		return OpenResult{State: StateFailed}, err
	}
	result, ok := res.(OpenResult)
	if !ok {
		return OpenResult{State: StateFailed}, kerr.New(kerr.Fatal, "durable exit workflow returned unexpected result type")
	}
	return result, nil
}

// exitWorkflow is the durable counterpart of Close: it cancels resting
// orders on both venues, then launches one sub-workflow per leg so both
// reducing orders proceed independently and durably, exactly mirroring
// ExecuteSpotPerpExit's two-handle join.
func (e *Engine) exitWorkflow(ctx dbos.DBOSContext, input any) (any, error) {
	in, ok := input.(closeInput)
	if !ok {
		return nil, kerr.New(kerr.Fatal, "exitWorkflow: unexpected input type")
	}

	longAdapter, ok := e.venues[in.Long.Venue]
	if !ok {
		return OpenResult{State: StateFailed}, kerr.New(kerr.InvalidRequest, "no adapter for long venue "+in.Long.Venue)
	}
	shortAdapter, ok := e.venues[in.Short.Venue]
	if !ok {
		return OpenResult{State: StateFailed}, kerr.New(kerr.InvalidRequest, "no adapter for short venue "+in.Short.Venue)
	}
	_, _ = ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) { return nil, longAdapter.CancelAll(stepCtx, in.Long.Symbol) })
	_, _ = ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) { return nil, shortAdapter.CancelAll(stepCtx, in.Short.Symbol) })

	h1, err := ctx.RunWorkflow(ctx, e.exitLegWorkflow, closeLegInput{
		Venue: in.Long.Venue, Symbol: in.Long.Symbol, Side: core.SideShort, Size: in.Long.Size,
		ClientOrderID: in.PlanID + "-close-long",
	})
	if err != nil {
		return OpenResult{State: StateFailed}, err
	}
	h2, err := ctx.RunWorkflow(ctx, e.exitLegWorkflow, closeLegInput{
		Venue: in.Short.Venue, Symbol: in.Short.Symbol, Side: core.SideLong, Size: in.Short.Size,
		ClientOrderID: in.PlanID + "-close-short",
	})
	if err != nil {
		return OpenResult{State: StateFailed}, err
	}

	_, err1 := h1.GetResult()
	_, err2 := h2.GetResult()
	if err1 != nil || err2 != nil {
		return OpenResult{State: StateFailed}, kerr.New(kerr.Fatal, fmt.Sprintf("one or both durable close legs failed: long=%v, short=%v", err1, err2))
	}

	return OpenResult{
		State: StateClosed,
		Positions: []core.Position{
			{ID: in.Long.ID, StrategyID: in.PlanID, Venue: in.Long.Venue, Symbol: in.Long.Symbol, Side: core.SideLong, Status: core.PositionClosed},
			{ID: in.Short.ID, StrategyID: in.PlanID, Venue: in.Short.Venue, Symbol: in.Short.Symbol, Side: core.SideShort, Status: core.PositionClosed},
		},
	}, nil
}

// closeLegInput is exitLegWorkflow's input: a venue name rather than a
// live adapter, for the same reason as closeInput.
type closeLegInput struct {
	Venue         string
	Symbol        string
	Side          core.OrderSide
	Size          decimal.Decimal
	ClientOrderID string
}

func (e *Engine) exitLegWorkflow(ctx dbos.DBOSContext, input any) (any, error) {
	in, ok := input.(closeLegInput)
	if !ok {
		return nil, kerr.New(kerr.Fatal, "exitLegWorkflow: unexpected input type")
	}
	adapter, ok := e.venues[in.Venue]
	if !ok {
		return nil, kerr.New(kerr.InvalidRequest, "no adapter for venue "+in.Venue)
	}
	req := core.OrderRequest{
		Symbol:        in.Symbol,
		Side:          in.Side,
		Type:          core.OrderTypeMarket,
		Size:          in.Size,
		ReduceOnly:    true,
		ClientOrderID: in.ClientOrderID,
	}
	res, err := ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		return adapter.PlaceOrder(stepCtx, req)
	})
	if err != nil {
		return nil, err
	}
	if _, ok := res.(core.OrderAck); !ok {
		return nil, kerr.New(kerr.Fatal, "exitLegWorkflow: step returned unexpected type")
	}
	return res, nil
}
