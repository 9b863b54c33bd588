package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fundingkeeper/internal/aggregator"
	"fundingkeeper/internal/core"
	"fundingkeeper/internal/costcalc"
)

// rotationTracker holds the dwell-time bookkeeping the SpreadRotation loop
// needs to avoid switching pairs on a single noisy tick. Grounded on
// internal/trading/arbitrage/manager.go's UniverseManager, which tracks
// one "current occupant" per slot and only switches once a candidate has
// cleared the switching-cost threshold on enough consecutive checks.
type rotationTracker struct {
	mu     sync.Mutex
	margin decimal.Decimal
	dwell  int
	streak map[string]rotationStreak
}

type rotationStreak struct {
	candidateKey string
	ticks        int
}

func newRotationTracker(margin float64, dwell int) *rotationTracker {
	if margin <= 0 {
		margin = 0.05
	}
	if dwell <= 0 {
		dwell = 3
	}
	return &rotationTracker{
		margin: decimal.NewFromFloat(margin),
		dwell:  dwell,
		streak: make(map[string]rotationStreak),
	}
}

// observe records one tick's candidate for strategyID and reports whether
// it has now held for cfg.dwell consecutive ticks. A change of candidate
// resets the streak, matching the corpus's requirement that a switch must
// be justified on sustained, not momentary, improvement.
func (t *rotationTracker) observe(strategyID, candidateKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.streak[strategyID]
	if cur.candidateKey != candidateKey {
		cur = rotationStreak{candidateKey: candidateKey, ticks: 0}
	}
	cur.ticks++
	t.streak[strategyID] = cur
	return cur.ticks >= t.dwell
}

func (t *rotationTracker) clear(strategyID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streak, strategyID)
}

// shouldSwitch reports whether candidateAPR clears currentAPR by enough to
// justify paying switchCost to move. Mirrors UniverseManager.shouldSwitch:
// the gain only counts if the candidate is actually better, and it must
// exceed the switching cost inflated by the tracker's margin buffer.
func shouldSwitch(currentAPR, candidateAPR, switchCostAPR core.Percentage, margin decimal.Decimal) bool {
	if !candidateAPR.GreaterThan(currentAPR) {
		return false
	}
	gain := candidateAPR.Sub(currentAPR)
	threshold := switchCostAPR.Mul(decimal.NewFromInt(1).Add(margin))
	return gain.GreaterThan(threshold)
}

// spreadRotation is the SpreadRotation loop (default 600s, the slowest of
// the eleven): for every open delta-neutral pair, looks for a
// better-paying venue pairing on the same symbol among this tick's fresh
// opportunities and, once that improvement has held for RotateDwell
// consecutive ticks, closes the stale pair so the next ScanOpportunities
// tick can redeploy the freed capital into the better one.
func (s *Scheduler) spreadRotation(ctx context.Context) error {
	opps, err := s.d.Aggregator.Scan(ctx, s.d.Venues, s.d.Cfg.Symbols)
	if err != nil {
		return err
	}
	bestBySymbol := make(map[string]core.ArbitrageOpportunity, len(opps))
	for _, opp := range opps {
		best, ok := bestBySymbol[opp.Symbol]
		if !ok || opp.ExpectedAPR.GreaterThan(best.ExpectedAPR) {
			bestBySymbol[opp.Symbol] = opp
		}
	}

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

		candidate, ok := bestBySymbol[long.Symbol]
		if !ok {
			s.rotation.clear(strategyID)
			continue
		}
		if candidate.LongVenue == long.Venue && candidate.ShortVenue == short.Venue {
			s.rotation.clear(strategyID)
			continue
		}

		longAdapter, lok := s.d.Venues[long.Venue]
		shortAdapter, sok := s.d.Venues[short.Venue]
		if !lok || !sok {
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
		currentAPR := aggregator.AnnualizeSpread(
			aggregator.ComputeSpread(longFunding.RatePerInterval, shortFunding.RatePerInterval),
			s.d.PlannerCfg.IntervalsPerDay)

		switchCost := costcalc.Fee(core.AmountFromFloat(100), s.feesFor(long.Venue), false).
			Add(costcalc.Fee(core.AmountFromFloat(100), s.feesFor(short.Venue), false)).
			Add(costcalc.Fee(core.AmountFromFloat(100), s.feesFor(candidate.LongVenue), false)).
			Add(costcalc.Fee(core.AmountFromFloat(100), s.feesFor(candidate.ShortVenue), false))
		switchCostAPR := core.PercentageFromFloat(switchCost.Decimal().Div(decimal.NewFromInt(100)).InexactFloat64() * 100)

		if !shouldSwitch(currentAPR, candidate.ExpectedAPR, switchCostAPR, s.rotation.margin) {
			s.rotation.clear(strategyID)
			continue
		}

		key := candidate.LongVenue + "|" + candidate.ShortVenue
		if !s.rotation.observe(strategyID, key) {
			continue
		}

		s.logger.Info("rotating position pair to a better-paying venue pairing",
			"strategyId", strategyID, "symbol", long.Symbol,
			"from", long.Venue+"/"+short.Venue, "to", key,
			"currentAPR", currentAPR.String(), "candidateAPR", candidate.ExpectedAPR.String())

		result, err := s.d.Execution.Close(ctx, strategyID, []core.Position{long, short})
		if err != nil {
			s.logger.Error("failed to close pair for rotation", "strategyId", strategyID, "error", err)
			continue
		}
		for _, p := range result.Positions {
			if serr := s.d.Store.UpsertPosition(ctx, p); serr != nil {
				s.logger.Error("failed to persist rotated-out position", "positionId", p.ID, "error", serr)
			}
		}
		s.rotation.clear(strategyID)
	}
	return nil
}
