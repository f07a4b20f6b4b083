package calc

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	one         = decimal.NewFromInt(1)
	hundred     = decimal.NewFromInt(100)
	daysPerYear = decimal.NewFromInt(365)
)

// USDValue returns amount×price/scale, the dollar value of an amount held in
// smallest units.
func USDValue(amount uint64, price decimal.Decimal, scale uint64) decimal.Decimal {
	return FromUint64(amount).Mul(price).Div(FromUint64(scale))
}

// CollateralRatio calculates CR = collateral_usd / debt_usd.
// Debt is valued at the peg (1 synthetic unit = 1 USD).
func CollateralRatio(collateralUSD decimal.Decimal, debtUnits uint64) decimal.Decimal {
	if debtUnits == 0 {
		return decimal.Zero
	}
	return collateralUSD.Div(USDValue(debtUnits, one, UnitsPerMata))
}

// PegDeviation calculates |price - 1.0|
func PegDeviation(price decimal.Decimal) decimal.Decimal {
	return price.Sub(one).Abs()
}

// LoanAmount returns floor(collateral_usd / (requirement/100) × 1e6), the
// synthetic units issued against collateral_usd at a percentage
// collateral requirement (300 means 300%).
func LoanAmount(collateralUSD decimal.Decimal, requirementPct uint64) (uint64, error) {
	if requirementPct == 0 {
		return 0, fmt.Errorf("collateral requirement is zero")
	}
	ratio := FromUint64(requirementPct).Div(hundred)
	return FloorUint64(collateralUSD.Mul(FromUint64(UnitsPerMata)).Div(ratio))
}

// RequiredStakeUSD is the governance stake value a locked-stake loan must
// pledge: lamports × (lcp/100) × sol_price / 1e9.
func RequiredStakeUSD(lcpPct uint64, lamports uint64, solPrice decimal.Decimal) decimal.Decimal {
	return USDValue(lamports, solPrice, LamportsPerSol).Mul(FromUint64(lcpPct)).Div(hundred)
}

// SimpleInterest returns floor(rate/100 × principal × days/365), with rate
// given in hundredths (3600 means 36.00, i.e. 3600% a year). The division
// happens last so exact results are never rounded down.
func SimpleInterest(rateHundredths uint32, principal uint64, days uint64) (uint64, error) {
	rate := decimal.New(int64(rateHundredths), -2)
	return FloorUint64(FromUint64(principal).Mul(rate).Mul(FromUint64(days)).Div(daysPerYear))
}
