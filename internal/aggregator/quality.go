// Quality scoring and stability scoring are informational ranking that
// never gates acceptance. Toxic-basis detection does gate: PairPerpSpot
// rejects a perp-spot pairing while its symbol is flagged.
// Modeled on the corpus's three-pillar calculateQualityScore
// (internal/trading/arbitrage/selector.go) and its toxic-basis strike
// counter, simplified onto this module's decimal-wrapped value types.
package aggregator

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"fundingkeeper/internal/core"
)

// QualityScore combines yield, risk, and maturity pillars into a single
// informational ranking score. A non-positive expected return always
// scores zero: the strategy only cares about opportunities that pay.
func QualityScore(opp core.ArbitrageOpportunity, vol core.VolatilityMetrics) decimal.Decimal {
	yield := opp.ExpectedAPR.Fraction()
	if !yield.IsPositive() {
		return decimal.Zero
	}

	stability := vol.StabilityScore
	if stability.GreaterThan(decimal.NewFromInt(1)) {
		stability = decimal.NewFromInt(1)
	}
	reversalPenalty := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(1 + vol.ReversalCount)))
	dropPenalty := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(1 + vol.DropsToZeroCount)))
	riskPillar := stability.Mul(reversalPenalty).Mul(dropPenalty)

	maturityPillar := decimal.NewFromFloat(1 + math.Log10(float64(vol.SampleCount+1))/10)

	return yield.Mul(riskPillar).Mul(maturityPillar)
}

// ToxicBasisTracker counts consecutive scans where a perp-spot symbol's
// basis exceeds a threshold, flagging the opportunity toxic once the
// strike count reaches the configured limit. Existing positions are not
// force-closed by this flag; it only blocks new entries.
type ToxicBasisTracker struct {
	threshold  decimal.Decimal
	strikeGate int

	mu      sync.Mutex
	strikes map[string]int
}

// NewToxicBasisTracker creates a tracker with the given basis threshold
// (as a fraction, e.g. 0.01 for 1%) and number of consecutive strikes
// required before flagging toxic.
func NewToxicBasisTracker(threshold decimal.Decimal, strikeGate int) *ToxicBasisTracker {
	if strikeGate <= 0 {
		strikeGate = 3
	}
	return &ToxicBasisTracker{
		threshold:  threshold,
		strikeGate: strikeGate,
		strikes:    make(map[string]int),
	}
}

// Observe records one scan's basis for symbol and reports whether it is
// now toxic (strikeGate consecutive over-threshold observations).
func (t *ToxicBasisTracker) Observe(symbol string, basis decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if basis.Abs().GreaterThan(t.threshold) {
		t.strikes[symbol]++
	} else {
		t.strikes[symbol] = 0
	}
	return t.strikes[symbol] >= t.strikeGate
}

// Reset clears a symbol's strike count, e.g. once it is no longer scanned.
func (t *ToxicBasisTracker) Reset(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.strikes, symbol)
}
