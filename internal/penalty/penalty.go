// Package penalty computes de-peg penalties by walking the price history.
package penalty

import (
	"github.com/shopspring/decimal"

	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/loan"
	"github.com/lucra/lucra-backend/internal/pricehistory"
	"github.com/lucra/lucra-backend/internal/protoerr"
)

const component = "penalty"

const (
	MinMultiplier uint64 = 2
	MaxMultiplier uint64 = 40
)

var (
	peg       = decimal.NewFromInt(1)
	bandWidth = decimal.RequireFromString("0.05")
	bands     = decimal.NewFromInt(20)
)

// Multiplier scales the daily charge by how far below the peg price sits:
// 1 at or above the peg, else 2×(20 − floor(price/0.05)) clamped to [2, 40].
func Multiplier(price decimal.Decimal) uint64 {
	if price.GreaterThanOrEqual(peg) {
		return 1
	}
	if !price.IsPositive() {
		return MaxMultiplier
	}
	steps := bands.Sub(price.Div(bandWidth).Floor())
	m := steps.Mul(decimal.NewFromInt(2))
	switch {
	case m.LessThan(calc.FromUint64(MinMultiplier)):
		return MinMultiplier
	case m.GreaterThan(calc.FromUint64(MaxMultiplier)):
		return MaxMultiplier
	}
	return uint64(m.IntPart())
}

// Accrue returns the charge owed for every eligible day in history that the
// loan has not been checked for yet. The day holding LastChecked still counts
// as unprocessed: a check during that day skipped it as today. The result
// already respects the collateral caps but is not added to the loan.
func Accrue(history *pricehistory.History, l *loan.Active, multiplier uint64, now int64, params pricehistory.Params) (uint64, error) {
	today := params.Truncate(now)
	checked := params.Truncate(l.LastChecked)

	var total uint64
	for _, snap := range history.Entries() {
		if !snap.Valid() || snap.Date < l.CreatedAt || snap.Date == today {
			continue
		}
		if snap.Date < checked {
			continue
		}

		charge, err := dayCharge(snap, l, multiplier)
		if err != nil {
			return 0, err
		}
		var ok bool
		total, ok = calc.AddUint64(total, charge)
		if !ok {
			return 0, protoerr.Math(component, "total_overflow")
		}
	}

	if total > l.SolCollateral {
		total = l.SolCollateral
	}
	if room := l.HarvestableRoom(); total > room {
		total = room
	}
	return total, nil
}

// CollateralUSD values both collateral legs at one day's snapshot.
func CollateralUSD(snap pricehistory.Snapshot, l *loan.Active) decimal.Decimal {
	sol := calc.USDValue(l.SolCollateral, snap.Sol(), calc.LamportsPerSol)
	stake := calc.USDValue(l.StakingCollateral, snap.Lucra(), calc.UnitsPerLucra)
	return sol.Add(stake)
}

func dayCharge(snap pricehistory.Snapshot, l *loan.Active, multiplier uint64) (uint64, error) {
	rate := l.PenaltyRate(CollateralUSD(snap, l))
	base, err := calc.SimpleInterest(rate, l.SolCollateral, 1)
	if err != nil {
		return 0, protoerr.Math(component, "daily_interest")
	}
	charge, ok := calc.MulUint64(base, multiplier)
	if !ok {
		return 0, protoerr.Math(component, "multiplier_overflow")
	}
	return charge, nil
}
