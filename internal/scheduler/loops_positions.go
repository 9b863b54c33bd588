package scheduler

import (
	"context"

	"fundingkeeper/internal/core"
)

// checkPositionBalance is the CheckPositionBalance loop (default 60s): for
// every open delta-neutral pair, compares the two legs' live notional and
// flags a drift past the leveraged controller's DriftLimit. It never acts
// on a drift by itself — EmergencyHealthCheck's deltaneutral.Decide pass
// owns the rebalance decision; this loop only surfaces the measurement.
func (s *Scheduler) checkPositionBalance(ctx context.Context) error {
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
		longNotional := long.Size.Mul(long.EntryPrice.Decimal())
		shortNotional := short.Size.Mul(short.EntryPrice.Decimal())
		if longNotional.IsZero() {
			continue
		}
		drift := longNotional.Sub(shortNotional).Div(longNotional).Abs()
		if drift.GreaterThan(s.d.DeltaCfg.DriftLimit) {
			s.logger.Warn("position legs have drifted apart", "strategyId", strategyID,
				"longVenue", long.Venue, "shortVenue", short.Venue, "driftPct", drift.String())
		}
	}
	return nil
}

// verifyPositionState is the VerifyPositionState loop (default 90s):
// the execution engine's reconciling state. It compares the store's view of open
// positions against what each venue actually reports and applies the
// reconciler's Outcome back: dropped ghosts, adopted/closed strays are
// logged for operator visibility, and halted divergences stop nothing by
// themselves — the reconciler's own circuit breaker (IsHalted) is what new
// entries must check before opening further exposure.
func (s *Scheduler) verifyPositionState(ctx context.Context) error {
	local, err := s.d.Store.ListPositions(ctx)
	if err != nil {
		return err
	}

	outcome, err := s.d.Reconciler.Reconcile(ctx, local)
	if err != nil {
		return err
	}

	for _, ghost := range outcome.Ghosts {
		if err := s.d.Store.DeletePosition(ctx, ghost.ID); err != nil {
			s.logger.Error("failed to drop ghost position", "positionId", ghost.ID, "error", err)
			continue
		}
		s.logger.Warn("dropped ghost position no longer reported by venue", "positionId", ghost.ID, "venue", ghost.Venue, "symbol", ghost.Symbol)
	}

	for _, matched := range outcome.Matched {
		if err := s.d.Store.UpsertPosition(ctx, matched); err != nil {
			s.logger.Error("failed to persist reconciled position", "positionId", matched.ID, "error", err)
		}
	}

	for _, stray := range outcome.Strays {
		s.logger.Warn("venue reported a stray position", "venue", stray.Venue, "symbol", stray.Position.Symbol, "action", stray.Action)
	}

	for _, div := range outcome.Halted {
		s.logger.Error("position divergence exceeds auto-correct threshold, halting entries for symbol", "venue", div.Venue, "symbol", div.Symbol, "divergencePct", div.DivergencePct.String())
		if s.d.Metrics != nil && s.d.Metrics.ReconcileDivergedTotal != nil {
			s.d.Metrics.ReconcileDivergedTotal.Add(ctx, 1)
		}
	}
	return nil
}
