package scheduler

import (
	"context"
	"time"

	"fundingkeeper/internal/core"
)

// refreshCapital is the RefreshCapital loop (default 60s): pulls each
// venue's equity so ScanOpportunities' next allocation pass, and the
// diagnostics surface, both see current capital rather than stale numbers
// cached from the last scan.
func (s *Scheduler) refreshCapital(ctx context.Context) error {
	for venue, adapter := range s.d.Venues {
		if !s.allowVenue(venue, 1) {
			continue
		}
		eq, err := adapter.GetEquity(ctx)
		if err != nil {
			s.logger.Warn("failed to refresh venue equity", "venue", venue, "error", err)
			continue
		}
		s.logger.Debug("venue capital refreshed", "venue", venue, "equity", eq.String())
	}
	return nil
}

// verifyRecentFills is the VerifyRecentFills loop (default 45s): a cheap,
// frequent liveness check over still-open single-leg incidents, distinct
// from RetrySingleLeg's slower, heavier remediation pass. It only logs and
// ages incidents; it never places an order.
func (s *Scheduler) verifyRecentFills(ctx context.Context) error {
	incidents, err := s.d.Store.ListOpenIncidents(ctx)
	if err != nil {
		return err
	}
	for _, inc := range incidents {
		age := time.Since(inc.RaisedAt)
		s.logger.Warn("single-leg incident still open", "incidentId", inc.ID, "planId", inc.PlanID, "age", age.String())
	}
	return nil
}

// staleIncidentAge is how long an incident may remain open before
// RetrySingleLeg treats it as orphaned rather than mid-resolution.
const staleIncidentAge = 5 * time.Minute

// retrySingleLeg is the RetrySingleLeg loop (default 90s): the engine
// already flattens a filled leg synchronously once its partner hangs past
// the partial timeout (see internal/execution), so by the time an incident
// reaches the store its hanging order is already cancelled. This loop is
// the backstop for the case that invariant doesn't hold — the process
// restarted mid-resolution and the incident was left open — and
// force-resolves anything past staleIncidentAge. It only marks the
// incident resolved in the store: it does not query either venue's
// positions and places no order for the filled leg.
func (s *Scheduler) retrySingleLeg(ctx context.Context) error {
	incidents, err := s.d.Store.ListOpenIncidents(ctx)
	if err != nil {
		return err
	}
	for _, inc := range incidents {
		if time.Since(inc.RaisedAt) < staleIncidentAge {
			continue
		}
		if !s.allowVenue(inc.HangingVenue, 1) {
			continue
		}
		if err := s.d.Store.ResolveIncident(ctx, inc.ID, time.Now()); err != nil {
			s.logger.Error("retrySingleLeg: failed to mark incident resolved", "incidentId", inc.ID, "error", err)
			continue
		}
		s.logger.Warn("force-resolved orphaned single-leg incident past grace period", "incidentId", inc.ID, "hangingVenue", inc.HangingVenue)
	}
	return nil
}

// staleOrderAge is how long an open order may rest before CleanupStaleOrders
// cancels it outright.
const staleOrderAge = 10 * time.Minute

// cleanupStaleOrders is the CleanupStaleOrders loop (default 300s): cancels
// any resting order older than staleOrderAge on every venue/symbol pair the
// keeper trades, so a GTC limit from a plan that was later abandoned
// doesn't sit on the book indefinitely.
func (s *Scheduler) cleanupStaleOrders(ctx context.Context) error {
	now := time.Now()
	for venue, adapter := range s.d.Venues {
		for _, symbol := range s.d.Cfg.Symbols {
			if !s.allowVenue(venue, 1) {
				continue
			}
			orders, err := adapter.GetOpenOrders(ctx, symbol)
			if err != nil {
				s.logger.Debug("cleanupStaleOrders: failed to list open orders", "venue", venue, "symbol", symbol, "error", err)
				continue
			}
			for _, o := range orders {
				if o.Status != core.OrderStatusNew && o.Status != core.OrderStatusPartiallyFilled {
					continue
				}
				if now.Sub(o.PlacedAt) < staleOrderAge {
					continue
				}
				if err := adapter.CancelOrder(ctx, symbol, o.VenueOrderID); err != nil {
					s.logger.Error("cleanupStaleOrders: failed to cancel stale order", "venue", venue, "symbol", symbol, "orderId", o.VenueOrderID, "error", err)
					continue
				}
				s.logger.Info("cancelled stale resting order", "venue", venue, "symbol", symbol, "orderId", o.VenueOrderID, "age", now.Sub(o.PlacedAt).String())
			}
		}
	}
	return nil
}
