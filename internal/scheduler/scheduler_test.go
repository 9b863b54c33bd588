package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingkeeper/internal/aggregator"
	"fundingkeeper/internal/config"
	"fundingkeeper/internal/core"
	"fundingkeeper/internal/deltaneutral"
	"fundingkeeper/internal/execution"
	"fundingkeeper/internal/historicalstore"
	"fundingkeeper/internal/logging"
	"fundingkeeper/internal/planner"
	"fundingkeeper/internal/ratelimit"
	"fundingkeeper/internal/reconcile"
	"fundingkeeper/internal/store"
	"fundingkeeper/internal/venuetest"
)

func testDeps(t *testing.T, venues map[string]core.VenueAdapter) Deps {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Symbols = []string{"ETH-PERP"}

	logger := logging.NewNop()
	hist := historicalstore.New(historicalstore.DefaultConfig())
	agg := aggregator.New(aggregator.DefaultConfig(), aggregator.IdentityNormalizer{}, hist, logger)
	limiter := ratelimit.NewRegistry()
	for venue := range venues {
		limiter.Configure(venue, 1200)
	}
	rec := reconcile.New(reconcile.DefaultConfig(), venues, logger)
	eng := execution.New(execution.DefaultConfig(), venues, logger)
	st := store.NewMemory()

	return Deps{
		Cfg:        cfg,
		Venues:     venues,
		Aggregator: agg,
		History:    hist,
		Execution:  eng,
		Reconciler: rec,
		Store:      st,
		Limiter:    limiter,
		Logger:     logger,
		PlannerCfg: planner.DefaultConfig(),
		DeltaCfg:   deltaneutral.DefaultThresholds(),
	}
}

func TestNewSchedulesEveryLoop(t *testing.T) {
	venues := map[string]core.VenueAdapter{
		"venueA": venuetest.New("venueA"),
		"venueB": venuetest.New("venueB"),
	}
	s := New(testDeps(t, venues))
	assert.Len(t, s.loops, len(loopNames))
	for _, name := range loopNames {
		assert.Contains(t, s.loops, name)
	}
}

func TestRunLoopSkipsOverlappingIteration(t *testing.T) {
	venues := map[string]core.VenueAdapter{"venueA": venuetest.New("venueA")}
	s := New(testDeps(t, venues))

	var calls atomic.Int32
	release := make(chan struct{})
	slow := func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.wg.Add(1)
	go s.runLoop(ctx, "ScanOpportunities", 5*time.Millisecond, slow)

	// give the initial run() call time to start and block on release, then
	// let a handful of ticks pass while it's still running.
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "overlapping ticks must be skipped, not queued")

	close(release)
	cancel()
	s.wg.Wait()
}

func TestScanOpportunitiesOpensAPosition(t *testing.T) {
	long := venuetest.New("venueA").
		WithMark("ETH-PERP", core.PriceFromFloat(3000)).
		WithFunding("ETH-PERP", core.NewFundingRate(decimal.NewFromFloat(-0.0002)), 3).
		WithOpenInterest("ETH-PERP", core.AmountFromFloat(10_000_000)).
		WithBalance(core.AmountFromFloat(100_000), core.AmountFromFloat(100_000))
	short := venuetest.New("venueB").
		WithMark("ETH-PERP", core.PriceFromFloat(3000)).
		WithFunding("ETH-PERP", core.NewFundingRate(decimal.NewFromFloat(0.0008)), 3).
		WithOpenInterest("ETH-PERP", core.AmountFromFloat(10_000_000)).
		WithBalance(core.AmountFromFloat(100_000), core.AmountFromFloat(100_000))

	venues := map[string]core.VenueAdapter{"venueA": long, "venueB": short}
	d := testDeps(t, venues)
	s := New(d)

	err := s.scanOpportunities(context.Background())
	require.NoError(t, err)

	positions, err := d.Store.ListPositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, positions, 2)
}

func TestCloseUnprofitableClosesAPairWhoseSpreadFlipped(t *testing.T) {
	long := venuetest.New("venueA").
		WithFunding("ETH-PERP", core.NewFundingRate(decimal.NewFromFloat(0.0002)), 3)
	short := venuetest.New("venueB").
		WithFunding("ETH-PERP", core.NewFundingRate(decimal.NewFromFloat(0.0001)), 3)

	venues := map[string]core.VenueAdapter{"venueA": long, "venueB": short}
	d := testDeps(t, venues)
	s := New(d)

	now := time.Now()
	longPos := core.Position{
		ID: "p-long", StrategyID: "plan-1", Venue: "venueA", Symbol: "ETH-PERP",
		Side: core.SideLong, Size: decimal.NewFromFloat(1), EntryPrice: core.PriceFromFloat(3000),
		OpenedAt: now, Status: core.PositionOpen,
	}
	shortPos := core.Position{
		ID: "p-short", StrategyID: "plan-1", Venue: "venueB", Symbol: "ETH-PERP",
		Side: core.SideShort, Size: decimal.NewFromFloat(1), EntryPrice: core.PriceFromFloat(3000),
		OpenedAt: now, Status: core.PositionOpen,
	}
	require.NoError(t, d.Store.UpsertPosition(context.Background(), longPos))
	require.NoError(t, d.Store.UpsertPosition(context.Background(), shortPos))

	require.NoError(t, s.closeUnprofitable(context.Background()))

	positions, err := d.Store.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	for _, p := range positions {
		assert.Equal(t, core.PositionClosed, p.Status)
	}
}

func TestShouldSwitchRequiresGainAboveMargin(t *testing.T) {
	margin := decimal.NewFromFloat(0.1)
	switchCost := core.PercentageFromFloat(1)

	assert.False(t, shouldSwitch(
		core.PercentageFromFloat(10), core.PercentageFromFloat(10.05), switchCost, margin),
		"a gain smaller than the margin-inflated switching cost must not trigger a switch")

	assert.True(t, shouldSwitch(
		core.PercentageFromFloat(10), core.PercentageFromFloat(12), switchCost, margin),
		"a gain clearing the margin-inflated switching cost must trigger a switch")

	assert.False(t, shouldSwitch(
		core.PercentageFromFloat(10), core.PercentageFromFloat(9), switchCost, margin),
		"a worse candidate must never trigger a switch")
}

func TestRotationTrackerRequiresDwell(t *testing.T) {
	tr := newRotationTracker(0.05, 3)
	assert.False(t, tr.observe("strat-1", "venueC|venueD"))
	assert.False(t, tr.observe("strat-1", "venueC|venueD"))
	assert.True(t, tr.observe("strat-1", "venueC|venueD"))

	tr.clear("strat-1")
	assert.False(t, tr.observe("strat-1", "venueC|venueD"))
}
