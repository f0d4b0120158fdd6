// Package tax computes per-line and aggregate tax amounts from rate lists.
// It is pure: no persistence, no clock, no side effects.
package tax

import (
	"errors"
	"fmt"
	"math"
)

// Rate describes a single tax to apply against a base amount.
type Rate struct {
	Name     string  `json:"name"`
	Rate     float64 `json:"rate"`
	IsExempt bool    `json:"isExempt"`
}

// Line is the computed amount for one rate.
type Line struct {
	Name   string  `json:"name"`
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

// Breakdown aggregates the computed lines. TaxAmount sums non-exempt
// lines only.
type Breakdown struct {
	Lines     []Line  `json:"lines"`
	TaxAmount float64 `json:"taxAmount"`
}

// ErrNegativeRate indicates a rate below zero.
var ErrNegativeRate = errors.New("tax: rate must not be negative")

// Compute applies each rate to base. Exempt rates produce a zero-amount
// line and do not contribute to the aggregate.
func Compute(base float64, rates []Rate) (Breakdown, error) {
	if base < 0 {
		return Breakdown{}, fmt.Errorf("tax: base must not be negative, got %.2f", base)
	}
	breakdown := Breakdown{Lines: make([]Line, 0, len(rates))}
	for _, r := range rates {
		if r.Rate < 0 {
			return Breakdown{}, fmt.Errorf("%w: %s %.2f", ErrNegativeRate, r.Name, r.Rate)
		}
		amount := 0.0
		if !r.IsExempt {
			amount = Round2(base * r.Rate / 100)
		}
		breakdown.Lines = append(breakdown.Lines, Line{Name: r.Name, Rate: r.Rate, Amount: amount})
		breakdown.TaxAmount += amount
	}
	breakdown.TaxAmount = Round2(breakdown.TaxAmount)
	return breakdown, nil
}

// Round2 rounds to cents, keeping document math stable across summation.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DefaultRates builds the rate list applied when a document supplies none.
// A non-positive rate yields an empty list, meaning untaxed documents.
func DefaultRates(name string, rate float64) []Rate {
	if rate <= 0 {
		return nil
	}
	return []Rate{{Name: name, Rate: rate}}
}
