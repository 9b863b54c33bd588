// Package core holds the domain types and the VenueAdapter contract shared
// by every other package in the keeper. Nothing here talks to a network or a
// disk.
package core

import "github.com/shopspring/decimal"

// Percentage is an annualized-rate-shaped value, always expressed on a
// 0-100 scale (35 means 35%, not 0.35). Only explicit conversions move a
// value between Percentage and Amount/Decimal space.
type Percentage struct{ d decimal.Decimal }

// NewPercentage wraps a raw percentage value (35 for 35%).
func NewPercentage(d decimal.Decimal) Percentage { return Percentage{d} }

// PercentageFromFloat is a convenience constructor for literals in tests and config defaults.
func PercentageFromFloat(f float64) Percentage { return Percentage{decimal.NewFromFloat(f)} }

func (p Percentage) Decimal() decimal.Decimal { return p.d }

// Fraction returns the 0-1 fraction this percentage represents (35% -> 0.35).
func (p Percentage) Fraction() decimal.Decimal { return p.d.Div(decimal.NewFromInt(100)) }

func (p Percentage) Add(o Percentage) Percentage { return Percentage{p.d.Add(o.d)} }
func (p Percentage) Sub(o Percentage) Percentage { return Percentage{p.d.Sub(o.d)} }
func (p Percentage) Mul(f decimal.Decimal) Percentage { return Percentage{p.d.Mul(f)} }
func (p Percentage) GreaterThan(o Percentage) bool    { return p.d.GreaterThan(o.d) }
func (p Percentage) LessThan(o Percentage) bool       { return p.d.LessThan(o.d) }
func (p Percentage) IsZero() bool                     { return p.d.IsZero() }
func (p Percentage) Neg() Percentage                  { return Percentage{p.d.Neg()} }
func (p Percentage) String() string                   { return p.d.StringFixed(4) + "%" }

// FractionToPercentage converts a 0-1 fraction (e.g. a rate of return) into a Percentage.
func FractionToPercentage(f decimal.Decimal) Percentage { return Percentage{f.Mul(decimal.NewFromInt(100))} }

// Price is a venue mark/quote price in quote-currency terms (almost always USD).
type Price struct{ d decimal.Decimal }

func NewPrice(d decimal.Decimal) Price    { return Price{d} }
func PriceFromFloat(f float64) Price      { return Price{decimal.NewFromFloat(f)} }
func (p Price) Decimal() decimal.Decimal  { return p.d }
func (p Price) IsZero() bool              { return p.d.IsZero() }
func (p Price) Add(o Price) Price         { return Price{p.d.Add(o.d)} }
func (p Price) Sub(o Price) Price         { return Price{p.d.Sub(o.d)} }
func (p Price) Mul(f decimal.Decimal) Price { return Price{p.d.Mul(f)} }
func (p Price) String() string            { return p.d.StringFixed(8) }

// Amount is a quantity expressed in USD notional, never a raw decimal that
// could be confused with a base-asset size.
type Amount struct{ d decimal.Decimal }

func NewAmount(d decimal.Decimal) Amount   { return Amount{d} }
func AmountFromFloat(f float64) Amount     { return Amount{decimal.NewFromFloat(f)} }
func (a Amount) Decimal() decimal.Decimal  { return a.d }
func (a Amount) IsZero() bool              { return a.d.IsZero() }
func (a Amount) IsNegative() bool          { return a.d.IsNegative() }
func (a Amount) Add(o Amount) Amount       { return Amount{a.d.Add(o.d)} }
func (a Amount) Sub(o Amount) Amount       { return Amount{a.d.Sub(o.d)} }
func (a Amount) Mul(f decimal.Decimal) Amount { return Amount{a.d.Mul(f)} }
func (a Amount) Div(f decimal.Decimal) Amount { return Amount{a.d.Div(f)} }
func (a Amount) GreaterThan(o Amount) bool { return a.d.GreaterThan(o.d) }
func (a Amount) LessThan(o Amount) bool    { return a.d.LessThan(o.d) }
func (a Amount) String() string            { return a.d.StringFixed(2) }

// BaseSize converts a USD Amount into base-asset units at the given Price.
func (a Amount) BaseSize(p Price) decimal.Decimal {
	if p.d.IsZero() {
		return decimal.Zero
	}
	return a.d.Div(p.d)
}

// FundingRate is a per-interval rate (e.g. per 8h), sign-aware. Positive
// means longs pay shorts, per the glossary convention.
type FundingRate struct{ d decimal.Decimal }

func NewFundingRate(d decimal.Decimal) FundingRate { return FundingRate{d} }
func (f FundingRate) Decimal() decimal.Decimal      { return f.d }
func (f FundingRate) Sub(o FundingRate) FundingRate { return FundingRate{f.d.Sub(o.d)} }
func (f FundingRate) Abs() FundingRate              { return FundingRate{f.d.Abs()} }
func (f FundingRate) Neg() FundingRate              { return FundingRate{f.d.Neg()} }
func (f FundingRate) GreaterThan(o FundingRate) bool { return f.d.GreaterThan(o.d) }
func (f FundingRate) IsPositive() bool              { return f.d.IsPositive() }

// AnnualizedAPR converts a per-interval rate into an annualized Percentage:
// annualizedAPR = ratePerInterval * intervalsPerDay * 365 * 100.
func (f FundingRate) AnnualizedAPR(intervalsPerDay int) Percentage {
	periodsPerYear := decimal.NewFromInt(int64(intervalsPerDay)).Mul(decimal.NewFromInt(365))
	return Percentage{f.d.Mul(periodsPerYear).Mul(decimal.NewFromInt(100))}
}

// FundingRateFromAPR is the inverse conversion, used by property tests that
// check per-interval -> APR -> per-interval idempotence.
func FundingRateFromAPR(apr Percentage, intervalsPerDay int) FundingRate {
	periodsPerYear := decimal.NewFromInt(int64(intervalsPerDay)).Mul(decimal.NewFromInt(365))
	if periodsPerYear.IsZero() {
		return FundingRate{decimal.Zero}
	}
	return FundingRate{apr.d.Div(decimal.NewFromInt(100)).Div(periodsPerYear)}
}

// rayDivisor is 1e27, the fixed-point base some lending protocols use for rates.
var rayDivisor = decimal.New(1, 27)

// APRFromRay converts a ray-encoded rate (1e27 fixed point) into an
// annualized Percentage: apr_pct = ray_value * 100 / 1e27.
func APRFromRay(ray decimal.Decimal) Percentage {
	return Percentage{ray.Mul(decimal.NewFromInt(100)).Div(rayDivisor)}
}
