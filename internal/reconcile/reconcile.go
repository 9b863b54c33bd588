// Package reconcile implements the execution engine's reconciling state and the scheduler's
// VerifyPositionState loop: compares the locally tracked position set
// against what each venue actually reports and resolves the difference —
// dropping local ghosts, adopting or closing venue strays, and halting via
// a circuit breaker when the divergence on a matched position is too large
// to auto-correct.
//
// Grounded on internal/risk/reconciler.go's Reconcile/reconcilePositions:
// kept its two-way ghost detection and divergence-threshold
// auto-correct-vs-halt split, generalized off the corpus's pb.Position
// wire type onto this module's own core.Position/core.VenuePosition.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/shopspring/decimal"

	"fundingkeeper/internal/concurrency"
	"fundingkeeper/internal/core"
)

// Config tunes the reconciler's divergence tolerance and stray-position
// policy, matching the keeper's Reconciliation error handling and the autoClose Open
// Question decision recorded in DESIGN.md.
type Config struct {
	// DivergenceThreshold is the fraction of the venue-reported size above
	// which a matched position's drift halts instead of auto-correcting.
	DivergenceThreshold decimal.Decimal

	// AutoCloseUnrecognizedPositions closes venue positions with no local
	// record instead of adopting them. Default false: adopt and flag.
	AutoCloseUnrecognizedPositions bool

	BreakerFailures   uint
	BreakerFailuresOf uint
	BreakerDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		DivergenceThreshold: decimal.NewFromFloat(0.05),
		BreakerFailures:     1,
		BreakerFailuresOf:   1,
		BreakerDelay:        10 * time.Second,
	}
}

// Divergence is a matched position whose local and venue sizes disagree
// past DivergenceThreshold; trading against that symbol+venue should halt
// until a human clears it.
type Divergence struct {
	Venue         string
	Symbol        string
	LocalSize     decimal.Decimal
	VenueSize     decimal.Decimal
	DivergencePct decimal.Decimal
}

// Stray is a venue-reported position with no local record.
type Stray struct {
	Venue    string
	Position core.VenuePosition
	Action   string // "adopted" or "closed"
}

// Outcome is one reconciliation pass's full result.
type Outcome struct {
	Matched []core.Position // local positions whose size agrees with (or was auto-corrected to) venue truth
	Ghosts  []core.Position // local positions the venue no longer shows; drop these
	Strays  []Stray
	Halted  []Divergence
}

// Reconciler runs one Reconcile pass across a fixed venue set.
type Reconciler struct {
	cfg     Config
	venues  map[string]core.VenueAdapter
	logger  core.Logger
	breaker circuitbreaker.CircuitBreaker[any]
	fetch   *concurrency.WorkerPool
}

func New(cfg Config, venues map[string]core.VenueAdapter, logger core.Logger) *Reconciler {
	cfg = withDefaults(cfg)
	breaker := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerFailuresOf).
		WithDelay(cfg.BreakerDelay).
		Build()
	fetch := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "reconcile_fetch",
		MaxWorkers: len(venues),
	}, logger)
	return &Reconciler{
		cfg:     cfg,
		venues:  venues,
		logger:  logger.With("component", "reconciler"),
		breaker: breaker,
		fetch:   fetch,
	}
}

// IsHalted reports whether a prior large divergence has tripped the
// circuit breaker; callers should refuse new entries while true.
func (r *Reconciler) IsHalted() bool {
	return r.breaker.IsOpen()
}

// Stop drains the venue-fetch worker pool. Call once during shutdown.
func (r *Reconciler) Stop() {
	r.fetch.Stop()
}

// fetchVenuePositions fans GetPositions out across every configured venue
// on the shared worker pool, bounded to one in-flight call per venue, and
// indexes each venue's response by symbol.
func (r *Reconciler) fetchVenuePositions(ctx context.Context) map[string]map[string]core.VenuePosition {
	results := make(map[string]map[string]core.VenuePosition, len(r.venues))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for venueName, adapter := range r.venues {
		venueName, adapter := venueName, adapter
		wg.Add(1)
		if err := r.fetch.Submit(func() {
			defer wg.Done()
			venuePositions, err := adapter.GetPositions(ctx)
			if err != nil {
				r.logger.Error("failed to fetch venue positions during reconciliation", "venue", venueName, "error", err)
				return
			}
			bySymbol := make(map[string]core.VenuePosition, len(venuePositions))
			for _, vp := range venuePositions {
				bySymbol[vp.Symbol] = vp
			}
			mu.Lock()
			results[venueName] = bySymbol
			mu.Unlock()
		}); err != nil {
			wg.Done()
			r.logger.Error("failed to submit venue position fetch", "venue", venueName, "error", err)
		}
	}
	wg.Wait()
	return results
}

// Reconcile compares local against every configured venue's reported
// positions. It never persists anything itself — callers apply Outcome
// (drop Ghosts, upsert corrected Matched sizes, adopt or mark-closed
// Strays) to their own store, which is what makes running this twice with
// an unchanged venue state produce an empty Halted/Ghosts/Strays diff the
// second time.
func (r *Reconciler) Reconcile(ctx context.Context, local []core.Position) (Outcome, error) {
	var out Outcome

	localByKey := make(map[string][]core.Position)
	for _, p := range local {
		if p.Status == core.PositionClosed || p.Status == core.PositionFailed {
			continue
		}
		key := p.Venue + "|" + p.Symbol
		localByKey[key] = append(localByKey[key], p)
	}

	fetched := r.fetchVenuePositions(ctx)

	for venueName, venueBySymbol := range fetched {
		for key, positions := range localByKey {
			symbol, ok := symbolForVenue(key, venueName)
			if !ok {
				continue
			}
			localSize := sumSize(positions)
			vp, present := venueBySymbol[symbol]
			venueSize := decimal.Zero
			if present {
				venueSize = vp.Size
			}

			if localSize.Equal(venueSize) {
				out.Matched = append(out.Matched, positions...)
				continue
			}

			// Venue shows nothing at all for a symbol we're tracking: the
			// position is gone (closed out-of-band, liquidated, expired),
			// not a sizing disagreement. Destroy it unconditionally rather
			// than routing it through the divergence-threshold halt, which
			// the zero denominator would trip every time regardless of size.
			if venueSize.IsZero() {
				out.Ghosts = append(out.Ghosts, positions...)
				r.logger.Info("dropping ghost local position, venue shows none", "venue", venueName, "symbol", symbol)
				continue
			}

			r.logger.Warn("position size mismatch detected", "venue", venueName, "symbol", symbol, "localSize", localSize.String(), "venueSize", venueSize.String())
			divergencePct := divergenceFraction(localSize, venueSize)
			if divergencePct.GreaterThanOrEqual(r.cfg.DivergenceThreshold) {
				r.breaker.RecordFailure()
				r.logger.Error("CRITICAL: large position divergence, halting new entries on this pair", "venue", venueName, "symbol", symbol, "divergencePct", divergencePct.String())
				out.Halted = append(out.Halted, Divergence{
					Venue: venueName, Symbol: symbol,
					LocalSize: localSize, VenueSize: venueSize, DivergencePct: divergencePct,
				})
				continue
			}

			r.breaker.RecordSuccess()
			corrected := positions[0]
			corrected.Size = venueSize
			out.Matched = append(out.Matched, corrected)
			r.logger.Info("auto-corrected small position divergence", "venue", venueName, "symbol", symbol, "divergencePct", divergencePct.String())
		}

		for symbol, vp := range venueBySymbol {
			if vp.Size.IsZero() {
				continue
			}
			if _, tracked := localByKey[venueName+"|"+symbol]; tracked {
				continue
			}
			stray := Stray{Venue: venueName, Position: vp}
			if r.cfg.AutoCloseUnrecognizedPositions {
				stray.Action = "closed"
				if err := r.closeStray(ctx, r.venues[venueName], vp); err != nil {
					r.logger.Error("failed to close unrecognized venue position", "venue", venueName, "symbol", symbol, "error", err)
				}
			} else {
				stray.Action = "adopted"
				r.logger.Warn("adopting unrecognized venue position", "venue", venueName, "symbol", symbol, "size", vp.Size.String())
			}
			out.Strays = append(out.Strays, stray)
		}
	}

	return out, nil
}

func (r *Reconciler) closeStray(ctx context.Context, adapter core.VenueAdapter, vp core.VenuePosition) error {
	side := core.SideShort
	if vp.Side == core.SideShort {
		side = core.SideLong
	}
	_, err := adapter.PlaceOrder(ctx, core.OrderRequest{
		Symbol:     vp.Symbol,
		Side:       side,
		Type:       core.OrderTypeMarket,
		Size:       vp.Size,
		ReduceOnly: true,
	})
	return err
}

func symbolForVenue(key, venueName string) (string, bool) {
	prefix := venueName + "|"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", false
	}
	return key[len(prefix):], true
}

func sumSize(positions []core.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Size)
	}
	return total
}

// divergenceFraction returns a fraction (not x100) since
// Config.DivergenceThreshold is a fraction too. Callers only reach here
// once venueSize is known non-zero.
func divergenceFraction(localSize, venueSize decimal.Decimal) decimal.Decimal {
	return venueSize.Sub(localSize).Div(venueSize.Abs()).Abs()
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.DivergenceThreshold.IsZero() {
		cfg.DivergenceThreshold = d.DivergenceThreshold
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = d.BreakerFailures
	}
	if cfg.BreakerFailuresOf == 0 {
		cfg.BreakerFailuresOf = d.BreakerFailuresOf
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = d.BreakerDelay
	}
	return cfg
}
