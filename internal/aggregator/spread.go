package aggregator

import "fundingkeeper/internal/core"

// ComputeSpread returns the funding spread (short - long) for a symbol,
// per-interval (not annualized). Kept unchanged from the corpus's
// arbitrage/spread.go, generalized onto core.FundingRate. A positive
// result means the short leg receives more than the long leg pays,
// i.e. it favors the pairing — see DESIGN.md for why LongVenue is
// assigned the lower-rate venue and ShortVenue the higher-rate one.
func ComputeSpread(longRate, shortRate core.FundingRate) core.FundingRate {
	return shortRate.Sub(longRate)
}

// AnnualizeSpread converts a per-interval spread into an annualized
// Percentage, given how many funding intervals occur per day.
func AnnualizeSpread(spread core.FundingRate, intervalsPerDay int) core.Percentage {
	if intervalsPerDay <= 0 {
		return core.PercentageFromFloat(0)
	}
	return spread.AnnualizedAPR(intervalsPerDay)
}
