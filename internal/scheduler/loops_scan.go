package scheduler

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/costcalc"
	"fundingkeeper/internal/kerr"
	"fundingkeeper/internal/liquidity"
	"fundingkeeper/internal/planner"
	"fundingkeeper/internal/portfolio"
)

// scanOpportunities is the ScanOpportunities loop (default 15s): the
// aggregator -> portfolio optimizer -> plan builder -> execution engine
// pipeline, run start to finish once per tick.
func (s *Scheduler) scanOpportunities(ctx context.Context) error {
	opps, err := s.d.Aggregator.Scan(ctx, s.d.Venues, s.d.Cfg.Symbols)
	if err != nil {
		return err
	}
	if s.d.Metrics != nil && s.d.Metrics.OpportunitiesFoundTotal != nil {
		s.d.Metrics.OpportunitiesFoundTotal.Add(ctx, int64(len(opps)))
	}
	if len(opps) == 0 {
		return nil
	}

	candidates := make([]portfolio.Candidate, 0, len(opps))
	for _, opp := range opps {
		in, ok := s.liquidityInput(ctx, opp)
		if !ok {
			continue
		}
		avgSpread, longN := s.d.History.AverageSpread(opp.Symbol, opp.LongVenue, opp.ShortVenue, 7*24*time.Hour)
		candidates = append(candidates, portfolio.Candidate{
			Opportunity:         opp,
			Liquidity:           in,
			LongSamples:         longN,
			ShortSamples:        longN,
			AvgHistoricalSpread: avgSpread,
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	totalCapital := s.totalCapital(ctx)
	result := portfolio.Optimize(portfolio.DefaultConfig(), candidates, totalCapital)
	for _, w := range result.Warnings {
		s.logger.Debug("candidate excluded from allocation", "reason", w)
	}

	for _, alloc := range result.Allocations {
		s.submitAllocation(ctx, alloc)
	}
	return nil
}

func (s *Scheduler) submitAllocation(ctx context.Context, alloc portfolio.Allocation) {
	opp := alloc.Opportunity
	longAdapter, ok := s.d.Venues[opp.LongVenue]
	if !ok {
		return
	}
	shortAdapter, ok := s.d.Venues[opp.ShortVenue]
	if !ok {
		return
	}
	if !s.allowVenue(opp.LongVenue, 1) || !s.allowVenue(opp.ShortVenue, 1) {
		return
	}

	longBalance, err := longAdapter.GetBalance(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch long venue balance, skipping allocation", "venue", opp.LongVenue, "error", err)
		return
	}
	shortBalance, err := shortAdapter.GetBalance(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch short venue balance, skipping allocation", "venue", opp.ShortVenue, "error", err)
		return
	}
	longBid, longAsk, err := longAdapter.GetBestBidAsk(ctx, opp.Symbol)
	if err != nil {
		return
	}
	shortBid, shortAsk, err := shortAdapter.GetBestBidAsk(ctx, opp.Symbol)
	if err != nil {
		return
	}

	plan, err := planner.Build(s.d.PlannerCfg, planner.Input{
		Opportunity:   opp,
		AllocationUSD: alloc.SizeUSD,
		LongBalance:   longBalance,
		ShortBalance:  shortBalance,
		LongBook:      liquidity.Book{Bid: longBid, Ask: longAsk, OpenInterest: opp.LongOI},
		ShortBook:     liquidity.Book{Bid: shortBid, Ask: shortAsk, OpenInterest: opp.ShortOI},
		LongFees:      s.feesFor(opp.LongVenue),
		ShortFees:     s.feesFor(opp.ShortVenue),
	})
	if err != nil {
		if s.d.Metrics != nil && s.d.Metrics.PlansRejectedTotal != nil {
			s.d.Metrics.PlansRejectedTotal.Add(ctx, 1)
		}
		s.logger.Debug("plan rejected", "symbol", opp.Symbol, "kind", kerr.KindOf(err), "error", err)
		return
	}

	result, err := s.d.Execution.Open(ctx, plan)
	switch {
	case err == nil && result.Positions != nil:
		if s.d.Metrics != nil && s.d.Metrics.PlansAcceptedTotal != nil {
			s.d.Metrics.PlansAcceptedTotal.Add(ctx, 1)
		}
		for _, p := range result.Positions {
			if serr := s.d.Store.UpsertPosition(ctx, p); serr != nil {
				s.logger.Error("failed to persist opened position", "positionId", p.ID, "error", serr)
			}
		}
	case result.Incident != nil:
		if s.d.Metrics != nil && s.d.Metrics.SingleLegIncidentsTotal != nil {
			s.d.Metrics.SingleLegIncidentsTotal.Add(ctx, 1)
		}
		if serr := s.d.Store.SaveIncident(ctx, *result.Incident); serr != nil {
			s.logger.Error("failed to persist single-leg incident", "incidentId", result.Incident.ID, "error", serr)
		}
	default:
		s.logger.Error("plan execution failed", "planId", plan.ID, "error", err)
	}
}

func (s *Scheduler) liquidityInput(ctx context.Context, opp core.ArbitrageOpportunity) (liquidity.Input, bool) {
	longAdapter, ok := s.d.Venues[opp.LongVenue]
	if !ok {
		return liquidity.Input{}, false
	}
	shortAdapter, ok := s.d.Venues[opp.ShortVenue]
	if !ok {
		return liquidity.Input{}, false
	}
	if !s.allowVenue(opp.LongVenue, 1) || !s.allowVenue(opp.ShortVenue, 1) {
		return liquidity.Input{}, false
	}
	longBid, longAsk, err := longAdapter.GetBestBidAsk(ctx, opp.Symbol)
	if err != nil {
		return liquidity.Input{}, false
	}
	shortBid, shortAsk, err := shortAdapter.GetBestBidAsk(ctx, opp.Symbol)
	if err != nil {
		return liquidity.Input{}, false
	}
	return liquidity.Input{
		LongBook:     liquidity.Book{Bid: longBid, Ask: longAsk, OpenInterest: opp.LongOI},
		ShortBook:    liquidity.Book{Bid: shortBid, Ask: shortAsk, OpenInterest: opp.ShortOI},
		LongRate:     opp.LongRate,
		ShortRate:    opp.ShortRate,
		LongFees:     s.feesFor(opp.LongVenue),
		ShortFees:    s.feesFor(opp.ShortVenue),
		APYFloor:     liquidity.DefaultAPYFloor,
		HoldingHours: 24,
		MinCandidate: core.AmountFromFloat(1000),
		MaxCandidate: core.AmountFromFloat(5_000_000),
		SweepFactor:  1.5,
	}, true
}

func (s *Scheduler) feesFor(venue string) costcalc.FeeRates {
	if f, ok := s.d.VenueFees[venue]; ok {
		return f
	}
	return costcalc.FeeRates{}
}

// totalCapital sums every configured venue's reported equity. A venue that
// fails to respond contributes nothing this tick rather than blocking the
// scan.
func (s *Scheduler) totalCapital(ctx context.Context) core.Amount {
	total := decimal.Zero
	for venue, adapter := range s.d.Venues {
		if !s.allowVenue(venue, 1) {
			continue
		}
		eq, err := adapter.GetEquity(ctx)
		if err != nil {
			continue
		}
		total = total.Add(eq.Decimal())
	}
	return core.NewAmount(total)
}
