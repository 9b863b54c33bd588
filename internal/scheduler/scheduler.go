// Package scheduler implements KeeperScheduler: the fixed set of
// periodic loops that drive the keeper end to end, from scanning for new
// opportunities through closing positions that stopped paying. Each loop
// owns one concern, runs on its own ticker, and never overlaps itself.
//
// Grounded on internal/trading/portfolio/controller.go's runLoop/Rebalance
// split (one ticker goroutine per concern) and on
// internal/trading/arbitrage/manager.go's UniverseManager for the
// rotation loop's cost-justified switching logic. The durable-workflow
// wrapping that controller.go pairs with its plain-Go loop lives one
// level down, in execution.Engine.EnableDurability — CloseUnprofitable
// and the entry path it calls into switch to checkpointed workflows
// there, not here.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fundingkeeper/internal/aggregator"
	"fundingkeeper/internal/config"
	"fundingkeeper/internal/core"
	"fundingkeeper/internal/costcalc"
	"fundingkeeper/internal/deltaneutral"
	"fundingkeeper/internal/execution"
	"fundingkeeper/internal/historicalstore"
	"fundingkeeper/internal/planner"
	"fundingkeeper/internal/ratelimit"
	"fundingkeeper/internal/reconcile"
	"fundingkeeper/internal/store"
	"fundingkeeper/internal/telemetry"
)

// loopNames lists every loop in the order they're started. Keeping
// this as the single source of truth means Start/Stop and the
// per-loop-running diagnostics all iterate the same set.
var loopNames = []string{
	"ScanOpportunities",
	"VerifyRecentFills",
	"CheckPositionBalance",
	"RefreshCapital",
	"RetrySingleLeg",
	"VerifyPositionState",
	"UpdateMetrics",
	"CloseUnprofitable",
	"CleanupStaleOrders",
	"SpreadRotation",
	"EmergencyHealthCheck",
}

// Deps bundles every collaborator the scheduler wires its loops through.
// Whether Execution runs its entry/exit durably is configured on the
// Engine itself (EnableDurability) before it's passed in here; the
// scheduler's loops call Execution.Open/Close the same way either way.
type Deps struct {
	Cfg         *config.Config
	Venues      map[string]core.VenueAdapter
	Aggregator  *aggregator.Aggregator
	History     *historicalstore.Store
	Execution   *execution.Engine
	Reconciler  *reconcile.Reconciler
	Store       store.Store
	Limiter     *ratelimit.Registry
	Metrics     *telemetry.Holder
	Logger      core.Logger
	PlannerCfg  planner.Config
	DeltaCfg    deltaneutral.Thresholds
	VenueFees   map[string]costcalc.FeeRates
	IsLeveraged bool // true selects the single-venue DeltaNeutralController path over the two-venue perp-perp path
}

// loopState tracks one loop's re-entrancy guard and last-run bookkeeping.
type loopState struct {
	running atomic.Bool
	mu      sync.Mutex
	lastRun time.Time
}

// Scheduler runs every loop against one Deps set.
type Scheduler struct {
	d      Deps
	logger core.Logger

	loops map[string]*loopState

	rotation *rotationTracker

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds a Scheduler. Call Start to begin ticking every loop.
func New(d Deps) *Scheduler {
	loops := make(map[string]*loopState, len(loopNames))
	for _, name := range loopNames {
		loops[name] = &loopState{}
	}
	return &Scheduler{
		d:        d,
		logger:   d.Logger.With("component", "scheduler"),
		loops:    loops,
		rotation: newRotationTracker(d.Cfg.RotateMargin, d.Cfg.RotateDwell),
		stopChan: make(chan struct{}),
	}
}

// Start launches every loop's ticker goroutine. It returns once all loops
// have been scheduled; it does not block for their lifetime.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("starting keeper scheduler", "loops", len(loopNames))
	for _, name := range loopNames {
		name := name
		loop := s.loopFunc(name)
		period := s.d.Cfg.LoopOrDefault(name).Period
		s.wg.Add(1)
		go s.runLoop(ctx, name, period, loop)
	}
	return nil
}

// Stop signals every loop to exit and waits for their current iteration
// (if any) to finish, honoring the caller's graceful-shutdown deadline via the
// context the caller passed to Start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// runLoop is the one ticker pattern every loop shares: fixed period,
// re-entrancy guard (a slow iteration simply gets skipped rather than
// stacking up), panic containment, and a per-iteration timeout capped at
// the loop's own period so one stuck loop can't starve its neighbors.
func (s *Scheduler) runLoop(ctx context.Context, name string, period time.Duration, fn func(context.Context) error) {
	defer s.wg.Done()
	if period <= 0 {
		period = 30 * time.Second
	}
	state := s.loops[name]

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	run := func() {
		if !state.running.CompareAndSwap(false, true) {
			s.logger.Warn("loop still running from previous tick, skipping", "loop", name)
			return
		}
		defer state.running.Store(false)

		iterCtx, cancel := context.WithTimeout(ctx, period)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("loop panicked, recovered", "loop", name, "panic", r)
			}
		}()

		start := time.Now()
		if err := fn(iterCtx); err != nil {
			s.logger.Error("loop iteration failed", "loop", name, "error", err)
		}
		state.mu.Lock()
		state.lastRun = time.Now()
		state.mu.Unlock()
		if name == "ScanOpportunities" && s.d.Metrics != nil && s.d.Metrics.ScanDurationMs != nil {
			s.d.Metrics.ScanDurationMs.Record(ctx, float64(time.Since(start).Milliseconds()))
		}
	}

	run() // initial run, matching PortfolioController/UniverseManager's Start-then-loop shape
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func (s *Scheduler) loopFunc(name string) func(context.Context) error {
	switch name {
	case "ScanOpportunities":
		return s.scanOpportunities
	case "VerifyRecentFills":
		return s.verifyRecentFills
	case "CheckPositionBalance":
		return s.checkPositionBalance
	case "RefreshCapital":
		return s.refreshCapital
	case "RetrySingleLeg":
		return s.retrySingleLeg
	case "VerifyPositionState":
		return s.verifyPositionState
	case "UpdateMetrics":
		return s.updateMetrics
	case "CloseUnprofitable":
		return s.closeUnprofitable
	case "CleanupStaleOrders":
		return s.cleanupStaleOrders
	case "SpreadRotation":
		return s.spreadRotation
	case "EmergencyHealthCheck":
		return s.emergencyHealthCheck
	default:
		return func(context.Context) error { return nil }
	}
}

// allowVenue checks the per-venue token bucket before a loop makes an
// API call against it, per the rate-limit contract: a false result means
// defer, not retry-immediately.
func (s *Scheduler) allowVenue(venue string, weight int) bool {
	if s.d.Limiter == nil {
		return true
	}
	ok := s.d.Limiter.AllowN(venue, weight)
	if !ok && s.d.Metrics != nil && s.d.Metrics.RateLimitDeferredTotal != nil {
		s.d.Metrics.RateLimitDeferredTotal.Add(context.Background(), 1)
	}
	return ok
}
