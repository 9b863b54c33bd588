// Package aggregator implements FundingAggregator: it collects
// current funding rates across venues, forms candidate opportunities,
// and filters them down to what's worth planning against. Grounded on
// the corpus's UniverseSelector.Scan pipeline
// (internal/trading/arbitrage/selector.go) for the ordered-pair /
// worker-pool scan shape, generalized off a fixed exchange set onto any
// VenueAdapter the caller configures.
package aggregator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/historicalstore"
)

// DefaultMinSpread is the default minimum per-interval spread.
var DefaultMinSpread = core.NewFundingRate(decimalFromFloat(0.0001))

// MarkDivergenceLimit is the max fractional mark-price difference across
// venues before a pair is treated as a stale-quote false positive.
const MarkDivergenceLimit = 0.01

// SymbolNormalizer maps a venue's own symbol spelling to the canonical
// symbol this module reasons about. The real alias table is an external
// collaborator (maintained outside this repository); Identity is the
// trivial stand-in used when venues already agree on spelling.
type SymbolNormalizer interface {
	Canonical(venue, rawSymbol string) string
}

// IdentityNormalizer treats every venue's symbol spelling as canonical.
type IdentityNormalizer struct{}

func (IdentityNormalizer) Canonical(_, rawSymbol string) string { return rawSymbol }

// Config tunes the aggregator's filters.
type Config struct {
	MinSpread         core.FundingRate
	IntervalsPerDay   int
	ToxicBasisThresh  float64
	ToxicBasisStrikes int
}

// DefaultConfig mirrors the aggregator's built-in defaults.
func DefaultConfig() Config {
	return Config{
		MinSpread:         DefaultMinSpread,
		IntervalsPerDay:   3,
		ToxicBasisThresh:  0.01,
		ToxicBasisStrikes: 3,
	}
}

// Aggregator scans configured venues for funding-rate arbitrage
// opportunities.
type Aggregator struct {
	cfg        Config
	normalizer SymbolNormalizer
	history    *historicalstore.Store
	logger     core.Logger
	toxic      *ToxicBasisTracker
}

// New creates an Aggregator. normalizer may be nil, in which case symbols
// are assumed already canonical across venues.
func New(cfg Config, normalizer SymbolNormalizer, history *historicalstore.Store, logger core.Logger) *Aggregator {
	if normalizer == nil {
		normalizer = IdentityNormalizer{}
	}
	if cfg.IntervalsPerDay <= 0 {
		cfg.IntervalsPerDay = 3
	}
	return &Aggregator{
		cfg:        cfg,
		normalizer: normalizer,
		history:    history,
		logger:     logger.With("component", "aggregator"),
		toxic:      NewToxicBasisTracker(decimalFromFloat(cfg.ToxicBasisThresh), cfg.ToxicBasisStrikes),
	}
}

type venueQuote struct {
	venue  string
	symbol string
	snap   core.FundingSnapshot
	mark   core.Price
	oi     core.Amount
	err    error
}

// Scan collects funding, mark, and open-interest data from every venue
// for every symbol, forms ordered (long, short) venue pairs —
// long is the lower-rate venue, short the higher-rate one, see
// DESIGN.md's worked-example resolution — and returns every pairing
// whose spread clears cfg.MinSpread and whose marks agree within
// MarkDivergenceLimit.
func (a *Aggregator) Scan(ctx context.Context, venues map[string]core.VenueAdapter, symbols []string) ([]core.ArbitrageOpportunity, error) {
	at := timeNow()
	quotes := a.collectQuotes(ctx, venues, symbols, at)

	var out []core.ArbitrageOpportunity
	for _, symbol := range symbols {
		perSymbol := quotes[symbol]
		for i := 0; i < len(perSymbol); i++ {
			for j := i + 1; j < len(perSymbol); j++ {
				qa, qb := perSymbol[i], perSymbol[j]
				if qa.err != nil || qb.err != nil {
					continue
				}
				opp, ok := a.pairPerpPerp(symbol, qa, qb, at)
				if !ok {
					continue
				}
				out = append(out, opp)
			}
		}
	}
	return out, nil
}

func (a *Aggregator) collectQuotes(ctx context.Context, venues map[string]core.VenueAdapter, symbols []string, at time.Time) map[string][]venueQuote {
	results := make(map[string][]venueQuote)
	var mu resultMutex
	g, gctx := errgroup.WithContext(ctx)

	for venueName, adapter := range venues {
		for _, rawSymbol := range symbols {
			venueName, adapter, rawSymbol := venueName, adapter, rawSymbol
			g.Go(func() error {
				symbol := a.normalizer.Canonical(venueName, rawSymbol)
				q := venueQuote{venue: venueName, symbol: rawSymbol}

				snap, err := adapter.GetFundingRate(gctx, rawSymbol, at)
				if err != nil {
					q.err = err
					mu.store(&results, symbol, q)
					return nil
				}
				mark, err := adapter.GetMarkPrice(gctx, rawSymbol)
				if err != nil {
					q.err = err
					mu.store(&results, symbol, q)
					return nil
				}
				oi, err := adapter.GetOpenInterest(gctx, rawSymbol)
				if err != nil {
					q.err = err
					mu.store(&results, symbol, q)
					return nil
				}
				q.snap, q.mark, q.oi = snap, mark, oi
				if a.history != nil {
					a.history.RecordFunding(snap)
				}
				mu.store(&results, symbol, q)
				return nil
			})
		}
	}
	_ = g.Wait() // individual venue failures are recorded per-quote, not fatal to the scan
	return results
}

// pairPerpPerp builds and filters one candidate pair.
func (a *Aggregator) pairPerpPerp(symbol string, qa, qb venueQuote, at time.Time) (core.ArbitrageOpportunity, bool) {
	longQ, shortQ := qa, qb
	if longQ.snap.RatePerInterval.GreaterThan(shortQ.snap.RatePerInterval) {
		longQ, shortQ = shortQ, longQ
	}

	spread := ComputeSpread(longQ.snap.RatePerInterval, shortQ.snap.RatePerInterval)
	if spread.Decimal().LessThan(a.cfg.MinSpread.Decimal()) {
		return core.ArbitrageOpportunity{}, false
	}

	if markDiverges(longQ.mark, shortQ.mark) {
		a.logger.Warn("mark price divergence, skipping pair", "symbol", symbol, "long", longQ.venue, "short", shortQ.venue)
		return core.ArbitrageOpportunity{}, false
	}

	opp := core.ArbitrageOpportunity{
		Symbol:      symbol,
		Strategy:    core.StrategyPerpPerp,
		LongVenue:   longQ.venue,
		ShortVenue:  shortQ.venue,
		LongRate:    longQ.snap.RatePerInterval,
		ShortRate:   shortQ.snap.RatePerInterval,
		Spread:      spread,
		ExpectedAPR: AnnualizeSpread(spread, a.cfg.IntervalsPerDay),
		LongMark:    longQ.mark,
		ShortMark:   shortQ.mark,
		LongOI:      longQ.oi,
		ShortOI:     shortQ.oi,
		Timestamp:   at,
	}

	if a.history != nil {
		a.history.RecordSpread(symbol, longQ.venue, shortQ.venue, spread, at)
		vol := a.history.SpreadVolatilityMetrics(symbol, longQ.venue, shortQ.venue, 7*24*time.Hour)
		opp.StabilityScore = vol.StabilityScore
		opp.QualityScore = QualityScore(opp, vol)
	}
	return opp, true
}

// PairPerpSpot pairs a perp venue against a spot venue for symbol. The
// sign of the perp leg's funding rate chooses direction: a positive rate
// means perp longs pay, so the profitable pairing is short perp + long
// spot; negative means the reverse.
func (a *Aggregator) PairPerpSpot(symbol string, perpVenue, spotVenue string, perpSnap core.FundingSnapshot, perpMark, spotMark core.Price, perpOI core.Amount, at time.Time) (core.ArbitrageOpportunity, bool) {
	if markDiverges(perpMark, spotMark) {
		return core.ArbitrageOpportunity{}, false
	}

	longVenue, shortVenue := spotVenue, perpVenue
	longRate, shortRate := core.NewFundingRate(decimalFromFloat(0)), perpSnap.RatePerInterval
	if perpSnap.RatePerInterval.IsPositive() {
		// positive perp rate: short perp (receive), long spot (pay nothing)
		longVenue, shortVenue = spotVenue, perpVenue
	} else {
		// negative perp rate: long perp (receive since shorts pay), short spot
		longVenue, shortVenue = perpVenue, spotVenue
		longRate, shortRate = perpSnap.RatePerInterval, core.NewFundingRate(decimalFromFloat(0))
	}

	spread := ComputeSpread(longRate, shortRate)
	if spread.Decimal().LessThan(a.cfg.MinSpread.Decimal()) {
		return core.ArbitrageOpportunity{}, false
	}

	basis := decimalFromFloat(0)
	if !perpMark.IsZero() {
		basis = spotMark.Decimal().Sub(perpMark.Decimal()).Div(perpMark.Decimal())
	}
	toxic := a.toxic.Observe(symbol, basis)

	return core.ArbitrageOpportunity{
		Symbol:      symbol,
		Strategy:    core.StrategyPerpSpot,
		LongVenue:   longVenue,
		ShortVenue:  shortVenue,
		LongRate:    longRate,
		ShortRate:   shortRate,
		Spread:      spread,
		ExpectedAPR: AnnualizeSpread(spread, a.cfg.IntervalsPerDay),
		LongMark:    perpMark,
		ShortMark:   spotMark,
		LongOI:      perpOI,
		ToxicBasis:  toxic,
		Timestamp:   at,
	}, !toxic
}

// PairPerpLend pairs a perp venue's funding rate against a lending
// reserve's net carry (supply APR minus borrow APR), treating the
// reserve as the lower-maintenance leg whenever its net carry beats the
// perp's own annualized funding.
func (a *Aggregator) PairPerpLend(symbol, perpVenue string, perpSnap core.FundingSnapshot, reserve core.ReserveSnapshot, perpMark core.Price, perpOI core.Amount, at time.Time) (core.ArbitrageOpportunity, bool) {
	perpAPR := perpSnap.AnnualizedAPR()
	netCarry := reserve.NetCarry()

	// Same convention as pairPerpPerp: long is the lower-yielding leg,
	// short the higher-yielding one, so Spread stays non-negative.
	longVenue, shortVenue := perpVenue, reserve.Venue
	longRate, shortRate := perpSnap.RatePerInterval, core.FundingRateFromAPR(netCarry, perpSnap.IntervalsPerDay)
	if perpAPR.GreaterThan(netCarry) {
		longVenue, shortVenue = shortVenue, longVenue
		longRate, shortRate = shortRate, longRate
	}

	spread := ComputeSpread(longRate, shortRate)
	if spread.Decimal().LessThan(a.cfg.MinSpread.Decimal()) {
		return core.ArbitrageOpportunity{}, false
	}

	return core.ArbitrageOpportunity{
		Symbol:      symbol,
		Strategy:    core.StrategyPerpLend,
		LongVenue:   longVenue,
		ShortVenue:  shortVenue,
		LongRate:    longRate,
		ShortRate:   shortRate,
		Spread:      spread,
		ExpectedAPR: AnnualizeSpread(spread, a.cfg.IntervalsPerDay),
		LongMark:    perpMark,
		ShortMark:   perpMark,
		LongOI:      perpOI,
		Timestamp:   at,
	}, true
}

func markDiverges(a, b core.Price) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	diff := a.Decimal().Sub(b.Decimal()).Abs()
	pct := diff.Div(a.Decimal())
	f, _ := pct.Float64()
	return f > MarkDivergenceLimit
}
