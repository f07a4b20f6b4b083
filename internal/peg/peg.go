// Package peg tracks whether the synthetic asset trades away from its target.
package peg

import (
	"github.com/shopspring/decimal"

	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/system"
)

// Tolerance converts basis points into an absolute price deviation.
func Tolerance(bps uint64) decimal.Decimal {
	return calc.FromUint64(bps).Shift(-4)
}

// Broken reports whether observed sits strictly outside the tolerance band.
func Broken(observed decimal.Decimal, toleranceBps uint64) bool {
	return calc.PegDeviation(observed).GreaterThan(Tolerance(toleranceBps))
}

// Update refreshes state.PegBroken from a freshly derived price and reports
// whether the flag changed. It is a no-op while peg checks are disabled.
func Update(state *system.State, observed decimal.Decimal) bool {
	if !state.PegCheckEnabled {
		return false
	}
	broken := Broken(observed, state.PegToleranceBps)
	changed := broken != state.PegBroken
	state.PegBroken = broken
	return changed
}
