package scheduler

import (
	"context"
	"time"

	"fundingkeeper/internal/aggregator"
	"fundingkeeper/internal/core"
	"fundingkeeper/internal/deltaneutral"
)

// updateMetrics is the UpdateMetrics loop (default 120s): refreshes the
// gauges the diagnostics surface reports, per-status position counts and
// per-position health factor, from the store's current view. It never
// touches a counter/histogram — those are incremented inline by the loop
// that owns the event.
func (s *Scheduler) updateMetrics(ctx context.Context) error {
	if s.d.Metrics == nil {
		return nil
	}
	positions, err := s.d.Store.ListPositions(ctx)
	if err != nil {
		return err
	}

	byStatus := make(map[string]int64, 8)
	for _, p := range positions {
		byStatus[string(p.Status)]++
		if p.Status != core.PositionOpen {
			s.d.Metrics.ClearPosition(p.ID)
			continue
		}
		if s.d.IsLeveraged {
			hf := core.NewHealthFactor(p.Collateral.Decimal(), s.d.DeltaCfg.LiqThreshold, p.Borrowed.Decimal())
			hfFloat, _ := hf.Decimal().Float64()
			s.d.Metrics.SetHealthFactor(p.ID, hfFloat)
		}
	}
	for _, status := range []core.PositionStatus{
		core.PositionOpening, core.PositionOpen, core.PositionRescuing,
		core.PositionClosing, core.PositionClosed, core.PositionFailed,
	} {
		s.d.Metrics.SetPositionsByStatus(string(status), byStatus[string(status)])
	}
	return nil
}

// closeUnprofitable is the CloseUnprofitable loop (default 120s): for
// every open delta-neutral pair, re-checks the current live funding spread
// against the planner's APY floor and closes the pair through the
// execution engine if it no longer clears it. The decision rests on one
// tick's rates: the first check whose annualized spread falls below the
// floor closes the pair, with no dwell or hysteresis.
func (s *Scheduler) closeUnprofitable(ctx context.Context) error {
	positions, err := s.d.Store.ListPositions(ctx)
	if err != nil {
		return err
	}

	byStrategy := make(map[string][]core.Position, len(positions)/2+1)
	for _, p := range positions {
		if p.Status != core.PositionOpen {
			continue
		}
		byStrategy[p.StrategyID] = append(byStrategy[p.StrategyID], p)
	}

	for strategyID, legs := range byStrategy {
		if len(legs) != 2 {
			continue
		}
		long, short := legs[0], legs[1]
		if long.Side != core.SideLong {
			long, short = short, long
		}

		longAdapter, ok := s.d.Venues[long.Venue]
		if !ok {
			continue
		}
		shortAdapter, ok := s.d.Venues[short.Venue]
		if !ok {
			continue
		}
		if !s.allowVenue(long.Venue, 1) || !s.allowVenue(short.Venue, 1) {
			continue
		}

		longFunding, err := longAdapter.GetFundingRate(ctx, long.Symbol, time.Now())
		if err != nil {
			continue
		}
		shortFunding, err := shortAdapter.GetFundingRate(ctx, short.Symbol, time.Now())
		if err != nil {
			continue
		}

		spread := aggregator.ComputeSpread(longFunding.RatePerInterval, shortFunding.RatePerInterval)
		apr := aggregator.AnnualizeSpread(spread, s.d.PlannerCfg.IntervalsPerDay)
		if !apr.LessThan(s.d.PlannerCfg.APYFloor) {
			continue
		}

		s.logger.Warn("closing position pair, spread fell below profitability floor",
			"strategyId", strategyID, "currentAPR", apr.String(), "floor", s.d.PlannerCfg.APYFloor.String())

		result, err := s.d.Execution.Close(ctx, strategyID, []core.Position{long, short})
		if err != nil {
			s.logger.Error("failed to close unprofitable pair", "strategyId", strategyID, "error", err)
			continue
		}
		for _, p := range result.Positions {
			if serr := s.d.Store.UpsertPosition(ctx, p); serr != nil {
				s.logger.Error("failed to persist closed position", "positionId", p.ID, "error", serr)
			}
		}
	}
	return nil
}

// emergencyHealthCheck is the EmergencyHealthCheck loop (default 30s): the
// tightest-period loop, driving the leveraged DeltaNeutralController
// escalation ladder. Non-leveraged deployments have nothing for it to
// evaluate and it returns immediately.
func (s *Scheduler) emergencyHealthCheck(ctx context.Context) error {
	if !s.d.IsLeveraged {
		return nil
	}
	positions, err := s.d.Store.ListPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p.Status != core.PositionOpen {
			continue
		}
		adapter, ok := s.d.Venues[p.Venue]
		if !ok {
			continue
		}
		if !s.allowVenue(p.Venue, 1) {
			continue
		}
		funding, err := adapter.GetFundingRate(ctx, p.Symbol, time.Now())
		if err != nil {
			continue
		}
		hf := core.NewHealthFactor(p.Collateral.Decimal(), s.d.DeltaCfg.LiqThreshold, p.Borrowed.Decimal())
		st := deltaneutral.State{
			HasPosition:     true,
			HF:              hf,
			CollateralUSD:   p.Collateral,
			PerpSizeBase:    p.Size,
			FundingRate:     funding.RatePerInterval,
			IntervalsPerDay: funding.IntervalsPerDay,
		}
		decision := deltaneutral.Decide(s.d.DeltaCfg, st, p.OpenedAt, time.Now())
		if decision.Action == deltaneutral.ActionNone {
			continue
		}
		s.logger.Warn("delta-neutral controller escalation", "positionId", p.ID, "action", decision.Action, "reason", decision.Reason)
	}
	return nil
}
