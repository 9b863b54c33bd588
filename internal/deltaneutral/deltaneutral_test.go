package deltaneutral

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fundingkeeper/internal/core"
)

func baseState() State {
	return State{
		HasPosition:       true,
		HF:                core.NewHealthFactor(decimal.NewFromFloat(10000), decimal.NewFromFloat(0.825), decimal.NewFromFloat(6000)),
		CollateralUSD:     core.AmountFromFloat(10_000),
		PerpMarginUSD:     core.AmountFromFloat(2_000),
		PerpNotionalUSD:   core.AmountFromFloat(20_000),
		PerpUnrealizedPnL: core.AmountFromFloat(500),
		SpotSizeBase:      decimal.NewFromFloat(10),
		PerpSizeBase:      decimal.NewFromFloat(10),
		FundingRate:       core.NewFundingRate(decimal.NewFromFloat(0.0002)),
		IntervalsPerDay:   3,
		BorrowAPR:         core.PercentageFromFloat(3),
	}
}

func TestDecideOpensWhenFundingAndCarryClearThresholds(t *testing.T) {
	cfg := DefaultThresholds()
	st := baseState()
	st.HasPosition = false

	d := Decide(cfg, st, time.Time{}, time.Now())
	assert.Equal(t, ActionOpen, d.Action)
	assert.True(t, d.SizeUSD.GreaterThan(core.AmountFromFloat(0)))
	assert.True(t, d.Leverage.GreaterThan(decimal.NewFromInt(1)))
}

func TestDecideRefusesOpenWhenCarryBelowMinimum(t *testing.T) {
	cfg := DefaultThresholds()
	st := baseState()
	st.HasPosition = false
	st.FundingRate = core.NewFundingRate(decimal.NewFromFloat(0.00001))
	st.BorrowAPR = core.PercentageFromFloat(10)

	d := Decide(cfg, st, time.Time{}, time.Now())
	assert.Equal(t, ActionNone, d.Action)
}

func TestDecideRescuesOnEmergencyHFWhenPerpProfitable(t *testing.T) {
	cfg := DefaultThresholds()
	st := baseState()
	st.HF = core.NewHealthFactor(decimal.NewFromFloat(10000), decimal.NewFromFloat(0.825), decimal.NewFromFloat(9000))
	st.PerpUnrealizedPnL = core.AmountFromFloat(500)

	d := Decide(cfg, st, time.Time{}, time.Now())
	assert.Equal(t, ActionRescueAndRelever, d.Action)
}

func TestDecideDeleveragesOnEmergencyHFWhenPerpUnprofitable(t *testing.T) {
	cfg := DefaultThresholds()
	st := baseState()
	st.HF = core.NewHealthFactor(decimal.NewFromFloat(10000), decimal.NewFromFloat(0.825), decimal.NewFromFloat(9000))
	st.PerpUnrealizedPnL = core.AmountFromFloat(-200)

	d := Decide(cfg, st, time.Time{}, time.Now())
	assert.Equal(t, ActionEmergencyDeleverage, d.Action)
}

func TestDecidePartialRescueBelowMinHF(t *testing.T) {
	cfg := DefaultThresholds()
	st := baseState()
	// HF ~= 10000*0.825/7500 = 1.1, between emergency(1.05) and min(1.2).
	st.HF = core.NewHealthFactor(decimal.NewFromFloat(10000), decimal.NewFromFloat(0.825), decimal.NewFromFloat(7500))

	d := Decide(cfg, st, time.Time{}, time.Now())
	assert.Equal(t, ActionPartialRescue, d.Action)
}

func TestDecideClosesWhenFundingFlipsNegative(t *testing.T) {
	cfg := DefaultThresholds()
	st := baseState()
	st.FundingRate = core.NewFundingRate(decimal.NewFromFloat(-0.0001))

	d := Decide(cfg, st, time.Time{}, time.Now())
	assert.Equal(t, ActionClose, d.Action)
}

func TestDecideReverseRescueWhenMarginThinButHFHealthy(t *testing.T) {
	cfg := DefaultThresholds()
	st := baseState()
	st.PerpMarginUSD = core.AmountFromFloat(100) // well below 5% of 20,000 notional
	st.HF = core.NewHealthFactor(decimal.NewFromFloat(10000), decimal.NewFromFloat(0.825), decimal.NewFromFloat(3000))

	d := Decide(cfg, st, time.Time{}, time.Now())
	assert.Equal(t, ActionReverseRescueWithdraw, d.Action)
}

func TestDecideClosesWhenMarginThinAndHFTooLowForReverseRescue(t *testing.T) {
	cfg := DefaultThresholds()
	st := baseState()
	st.PerpMarginUSD = core.AmountFromFloat(100)
	st.HF = core.NewHealthFactor(decimal.NewFromFloat(10000), decimal.NewFromFloat(0.825), decimal.NewFromFloat(6000))

	d := Decide(cfg, st, time.Time{}, time.Now())
	assert.Equal(t, ActionClose, d.Action)
}

func TestDecideRebalancesOnDriftAfterCooldown(t *testing.T) {
	cfg := DefaultThresholds()
	st := baseState()
	st.SpotSizeBase = decimal.NewFromFloat(10)
	st.PerpSizeBase = decimal.NewFromFloat(9)

	d := Decide(cfg, st, time.Now().Add(-time.Hour), time.Now())
	assert.Equal(t, ActionRebalanceDrift, d.Action)
}

func TestDecideSkipsRebalanceDuringCooldown(t *testing.T) {
	cfg := DefaultThresholds()
	st := baseState()
	st.SpotSizeBase = decimal.NewFromFloat(10)
	st.PerpSizeBase = decimal.NewFromFloat(9)

	d := Decide(cfg, st, time.Now(), time.Now())
	assert.Equal(t, ActionNone, d.Action)
}

func TestRescueSizeRejectsBelowMinimum(t *testing.T) {
	cfg := DefaultThresholds()
	_, ok := RescueSize(cfg, core.AmountFromFloat(5))
	assert.False(t, ok)
}

func TestRescueSizeCapsAtFractionOfPnL(t *testing.T) {
	cfg := DefaultThresholds()
	size, ok := RescueSize(cfg, core.AmountFromFloat(1000))
	assert.True(t, ok)
	assert.True(t, size.Decimal().Equal(decimal.NewFromFloat(900)))
}

func TestNextFallbackEscalates(t *testing.T) {
	assert.Equal(t, ActionReduceLeverage, NextFallback(ActionPartialRescue))
	assert.Equal(t, ActionEmergencyDeleverage, NextFallback(ActionReduceLeverage))
	assert.Equal(t, ActionEmergencyDeleverage, NextFallback(ActionRescueAndRelever))
	assert.Equal(t, ActionClose, NextFallback(ActionReverseRescueWithdraw))
}

func TestOptimalLeverageCapsAtMax(t *testing.T) {
	cfg := DefaultThresholds()
	cfg.MaxLeverage = decimal.NewFromFloat(1.1)
	l := OptimalLeverage(cfg)
	assert.True(t, l.Equal(decimal.NewFromFloat(1.1)))
}
