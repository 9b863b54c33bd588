// Command keeper is the delta-neutral funding-rate arbitrage keeper's
// process entrypoint: loads configuration, wires every collaborator, and
// runs the scheduler's eleven loops until a termination signal arrives.
//
// Grounded on internal/bootstrap/app.go's errgroup + signal.NotifyContext
// runner lifecycle and cmd/live_server/main.go's flag-parse ->
// config-load -> logger -> telemetry -> component-wiring order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fundingkeeper/internal/aggregator"
	"fundingkeeper/internal/config"
	"fundingkeeper/internal/core"
	"fundingkeeper/internal/costcalc"
	"fundingkeeper/internal/deltaneutral"
	"fundingkeeper/internal/diagnostics"
	"fundingkeeper/internal/execution"
	"fundingkeeper/internal/historicalstore"
	"fundingkeeper/internal/logging"
	"fundingkeeper/internal/planner"
	"fundingkeeper/internal/ratelimit"
	"fundingkeeper/internal/reconcile"
	"fundingkeeper/internal/scheduler"
	"fundingkeeper/internal/store"
	"fundingkeeper/internal/telemetry"
)

var (
	version = "dev"
)

func main() {
	configPath := flag.String("config", "configs/keeper.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("keeper version %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.System.LogLevel)
	logger.Info("starting keeper", "version", version, "venues", len(cfg.Venues), "symbols", cfg.Symbols)
	logger.Debug("loaded configuration", "config", cfg.Redacted())

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = "fundingkeeper"
	}
	tel, err := telemetry.Setup(serviceName, false)
	if err != nil {
		logger.Fatal("failed to set up telemetry", "error", err)
	}
	metrics := telemetry.GetGlobalMetrics()

	venues, err := buildVenues(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build venue adapters", "error", err)
	}

	st, err := store.New(cfg.Storage)
	if err != nil {
		logger.Fatal("failed to open store", "error", err)
	}
	defer st.Close()

	limiter := ratelimit.NewRegistry()
	for name, vc := range cfg.Venues {
		weight := vc.WeightPerMinute
		if weight <= 0 {
			weight = 1200
		}
		limiter.Configure(name, weight)
	}

	hist := historicalstore.New(historicalstore.Config{
		Retention:   cfg.Historical.Retention,
		HalfLife:    cfg.Historical.HalfLife,
		MinSamples:  cfg.Historical.MinSamples,
		MatchWindow: cfg.Historical.MatchWindow,
	})

	agg := aggregator.New(aggregator.DefaultConfig(), aggregator.IdentityNormalizer{}, hist, logger)

	reconcileCfg := reconcile.DefaultConfig()
	if cfg.Reconcile.DivergenceHaltPct > 0 {
		reconcileCfg.DivergenceThreshold = decimalFromFloat(cfg.Reconcile.DivergenceHaltPct)
	}
	reconcileCfg.AutoCloseUnrecognizedPositions = cfg.Reconcile.AutoCloseUnrecognizedPositions
	reconciler := reconcile.New(reconcileCfg, venues, logger)

	engine := execution.New(execution.DefaultConfig(), venues, logger)
	// engine.EnableDurability(dbosCtx) switches entry/exit onto checkpointed
	// workflows (see internal/execution/dbos.go); left disabled here since
	// standing up a dbos.DBOSContext needs its own Launch/Shutdown lifecycle
	// and a Postgres-backed system database this binary doesn't otherwise
	// require, so it's wired in by whichever deployment opts into it rather
	// than unconditionally here.

	venueFees := make(map[string]costcalc.FeeRates, len(cfg.Venues))
	for name, vc := range cfg.Venues {
		venueFees[name] = costcalc.FeeRates{
			Maker: core.PercentageFromFloat(vc.MakerFeeRate),
			Taker: core.PercentageFromFloat(vc.TakerFeeRate),
		}
	}

	plannerCfg := planner.DefaultConfig()
	plannerCfg.BalanceUsagePct = decimalFromFloat(cfg.BalanceUsagePct)
	plannerCfg.Leverage = decimalFromFloat(cfg.Leverage)
	plannerCfg.MinPositionUSD = core.AmountFromFloat(cfg.MinPositionUSD)
	plannerCfg.APYFloor = core.PercentageFromFloat(cfg.TargetAPY * 100)
	plannerCfg.MaxBreakEvenHours = cfg.MaxBreakEvenDays * 24

	deltaCfg := deltaneutral.DefaultThresholds()
	if cfg.Leveraged.MinHF > 0 {
		deltaCfg.MinHF = decimalFromFloat(cfg.Leveraged.MinHF)
		deltaCfg.TargetHF = decimalFromFloat(cfg.Leveraged.TargetHF)
		deltaCfg.EmergencyHF = decimalFromFloat(cfg.Leveraged.EmergencyHF)
		deltaCfg.MaxLeverage = decimalFromFloat(cfg.Leveraged.MaxLeverage)
		deltaCfg.LiqThreshold = decimalFromFloat(cfg.Leveraged.LiquidationThreshold)
		deltaCfg.DriftLimit = decimalFromFloat(cfg.Leveraged.DriftLimit)
		if cfg.Leveraged.RescueCooldown > 0 {
			deltaCfg.RebalanceCooldown = cfg.Leveraged.RescueCooldown
		}
	}

	sched := scheduler.New(scheduler.Deps{
		Cfg:         cfg,
		Venues:      venues,
		Aggregator:  agg,
		History:     hist,
		Execution:   engine,
		Reconciler:  reconciler,
		Store:       st,
		Limiter:     limiter,
		Metrics:     metrics,
		Logger:      logger,
		PlannerCfg:  plannerCfg,
		DeltaCfg:    deltaCfg,
		VenueFees:   venueFees,
		IsLeveraged: len(cfg.Venues) == 1,
	})

	diagPort := cfg.System.DiagnosticsPort
	if diagPort == 0 {
		diagPort = 9090
	}
	diagServer := diagnostics.NewServer(diagPort, st, reconciler, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	diagServer.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.Error("keeper stopped with error", "error", err)
	}

	logger.Info("shutting down")
	sched.Stop()
	reconciler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := diagServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop diagnostics server", "error", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down telemetry", "error", err)
	}
	logger.Info("keeper stopped")
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
