// Package historicalstore keeps a sliding window of per-(venue, symbol)
// funding snapshots and matched cross-venue spreads, and answers the
// aggregator's and portfolio's questions about historical behavior.
// Grounded on the corpus's funding monitor
// (internal/trading/monitor/funding_monitor.go) for the per-venue/
// per-symbol map-of-slices shape, and on
// internal/trading/arbitrage/analyzer.go for the stability/volatility
// math, generalized off pb types onto core's decimal-wrapped values.
package historicalstore

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
)

type fundingKey struct{ Venue, Symbol string }
type spreadKey struct{ Symbol, LongVenue, ShortVenue string }

type spreadSample struct {
	Timestamp time.Time
	Spread    core.FundingRate
}

// Config tunes retention and the weighting/matching constants below.
type Config struct {
	Retention   time.Duration
	HalfLife    time.Duration
	MinSamples  int
	MatchWindow time.Duration
}

// DefaultConfig mirrors config.DefaultConfig's Historical section so the
// store behaves sensibly when constructed without an explicit Config.
func DefaultConfig() Config {
	return Config{
		Retention:   30 * 24 * time.Hour,
		HalfLife:    24 * time.Hour,
		MinSamples:  3,
		MatchWindow: 5 * time.Minute,
	}
}

// Store is an in-memory, mutex-guarded sliding-window time series store
// implementing core.HistoricalStore. Every series is append-only. Funding
// series are timestamp-monotonic (RecordFunding drops out-of-order
// snapshots); spread samples are appended in call order with no ordering
// check. Trimming of samples older than the retention window happens
// lazily on write.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	funding  map[fundingKey][]core.FundingSnapshot
	spreads  map[spreadKey][]spreadSample
	lastTime map[fundingKey]time.Time
}

// New creates an empty store.
func New(cfg Config) *Store {
	if cfg.Retention <= 0 {
		cfg = DefaultConfig()
	}
	return &Store{
		cfg:      cfg,
		funding:  make(map[fundingKey][]core.FundingSnapshot),
		spreads:  make(map[spreadKey][]spreadSample),
		lastTime: make(map[fundingKey]time.Time),
	}
}

// RecordFunding appends a funding snapshot. Snapshots with a timestamp
// older than the last recorded one for the same (venue, symbol) are
// dropped rather than violating the monotonic-timestamp invariant.
func (s *Store) RecordFunding(snap core.FundingSnapshot) {
	key := fundingKey{snap.Venue, snap.Symbol}
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastTime[key]; ok && snap.Timestamp.Before(last) {
		return
	}
	s.lastTime[key] = snap.Timestamp

	s.funding[key] = append(s.funding[key], snap)
	s.funding[key] = trimFunding(s.funding[key], snap.Timestamp.Add(-s.cfg.Retention))
}

// RecordSpread appends a pre-computed cross-venue spread sample, used by
// the aggregator once it has matched a long/short pair for a scan.
func (s *Store) RecordSpread(symbol, longVenue, shortVenue string, spread core.FundingRate, at time.Time) {
	key := spreadKey{symbol, longVenue, shortVenue}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spreads[key] = append(s.spreads[key], spreadSample{Timestamp: at, Spread: spread})
	s.spreads[key] = trimSpreads(s.spreads[key], at.Add(-s.cfg.Retention))
}

// WeightedAverageRate returns an exponentially time-weighted average of a
// series's funding rate, with half-life s.cfg.HalfLife, falling back to
// the most recent sample if fewer than s.cfg.MinSamples samples exist.
func (s *Store) WeightedAverageRate(venue, symbol string, now time.Time) (core.FundingRate, bool) {
	s.mu.RLock()
	samples := s.funding[fundingKey{venue, symbol}]
	s.mu.RUnlock()

	if len(samples) == 0 {
		return core.FundingRate{}, false
	}
	if len(samples) < s.cfg.MinSamples {
		return samples[len(samples)-1].RatePerInterval, true
	}

	halfLifeSeconds := s.cfg.HalfLife.Seconds()
	if halfLifeSeconds <= 0 {
		halfLifeSeconds = DefaultConfig().HalfLife.Seconds()
	}

	weightedSum := decimal.Zero
	weightTotal := decimal.Zero
	for _, sample := range samples {
		ageSeconds := now.Sub(sample.Timestamp).Seconds()
		if ageSeconds < 0 {
			ageSeconds = 0
		}
		weight := decimal.NewFromFloat(exponentialDecay(ageSeconds, halfLifeSeconds))
		weightedSum = weightedSum.Add(sample.RatePerInterval.Decimal().Mul(weight))
		weightTotal = weightTotal.Add(weight)
	}
	if weightTotal.IsZero() {
		return samples[len(samples)-1].RatePerInterval, true
	}
	return core.NewFundingRate(weightedSum.Div(weightTotal)), true
}

// AverageSpread returns the arithmetic mean of the recorded spread
// between longVenue and shortVenue for symbol over the last window of
// wall-clock time.
func (s *Store) AverageSpread(symbol, longVenue, shortVenue string, window time.Duration) (core.FundingRate, int) {
	s.mu.RLock()
	samples := s.spreads[spreadKey{symbol, longVenue, shortVenue}]
	s.mu.RUnlock()

	if len(samples) == 0 {
		return core.FundingRate{}, 0
	}
	cutoff := samples[len(samples)-1].Timestamp.Add(-window)

	sum := decimal.Zero
	matched := 0
	for _, sample := range samples {
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		sum = sum.Add(sample.Spread.Decimal())
		matched++
	}
	if matched == 0 {
		return core.FundingRate{}, 0
	}
	return core.NewFundingRate(sum.Div(decimal.NewFromInt(int64(matched)))), matched
}

// SpreadVolatilityMetrics computes stability statistics for the recorded
// spread series between longVenue and shortVenue on symbol, over the last
// window of wall-clock time.
func (s *Store) SpreadVolatilityMetrics(symbol, longVenue, shortVenue string, window time.Duration) core.VolatilityMetrics {
	s.mu.RLock()
	samples := append([]spreadSample{}, s.spreads[spreadKey{symbol, longVenue, shortVenue}]...)
	s.mu.RUnlock()

	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	if len(samples) > 0 {
		cutoff := samples[len(samples)-1].Timestamp.Add(-window)
		var filtered []spreadSample
		for _, sample := range samples {
			if !sample.Timestamp.Before(cutoff) {
				filtered = append(filtered, sample)
			}
		}
		samples = filtered
	}

	if len(samples) == 0 {
		return core.VolatilityMetrics{StabilityScore: decimal.Zero}
	}

	values := make([]float64, len(samples))
	mean := 0.0
	for i, sample := range samples {
		v, _ := sample.Spread.Decimal().Float64()
		values[i] = v
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	stdDev := math.Sqrt(variance)

	stability := 1.0
	if stdDev > 0 {
		denom := math.Abs(mean) + stdDev
		if denom > 0 {
			stability = math.Abs(mean) / denom
		}
	}

	reversals := 0
	dropsToZero := 0
	maxHourlyChange := 0.0
	for i := 1; i < len(samples); i++ {
		prevV, curV := values[i-1], values[i]
		if prevV != 0 && curV != 0 && (prevV > 0) != (curV > 0) {
			reversals++
		}
		if prevV != 0 && curV == 0 {
			dropsToZero++
		}
		hours := samples[i].Timestamp.Sub(samples[i-1].Timestamp).Hours()
		if hours > 0 {
			change := math.Abs(curV-prevV) / hours
			if change > maxHourlyChange {
				maxHourlyChange = change
			}
		}
	}

	return core.VolatilityMetrics{
		StabilityScore:   decimal.NewFromFloat(clamp01(stability)),
		MaxHourlyChange:  decimal.NewFromFloat(maxHourlyChange),
		ReversalCount:    reversals,
		DropsToZeroCount: dropsToZero,
		SampleCount:      len(samples),
	}
}

// HistoricalData returns the raw funding snapshots for (venue, symbol), for
// callers doing their own quality gating. Callers see raw samples: no
// interpolation happens here.
func (s *Store) HistoricalData(venue, symbol string) []core.FundingSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := s.funding[fundingKey{venue, symbol}]
	out := make([]core.FundingSnapshot, len(existing))
	copy(out, existing)
	return out
}

func exponentialDecay(ageSeconds, halfLifeSeconds float64) float64 {
	if halfLifeSeconds <= 0 {
		return 1
	}
	return math.Pow(2, -ageSeconds/halfLifeSeconds)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func trimFunding(samples []core.FundingSnapshot, cutoff time.Time) []core.FundingSnapshot {
	i := 0
	for i < len(samples) && samples[i].Timestamp.Before(cutoff) {
		i++
	}
	return samples[i:]
}

func trimSpreads(samples []spreadSample, cutoff time.Time) []spreadSample {
	i := 0
	for i < len(samples) && samples[i].Timestamp.Before(cutoff) {
		i++
	}
	return samples[i:]
}

var _ core.HistoricalStore = (*Store)(nil)
