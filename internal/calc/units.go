package calc

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Smallest-unit scales for each asset the facility handles.
const (
	LamportsPerSol   uint64 = 1_000_000_000
	UnitsPerLucra    uint64 = 1_000_000_000
	UnitsPerMata     uint64 = 1_000_000
	PriceDecimals    uint8  = 6
	UnitsPerPriceFix uint64 = 1_000_000
)

// FromUint64 converts an on-ledger integer amount to a decimal.
func FromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// FromScaled converts a fixed-point integer with the given number of
// decimals to its decimal value (mantissa / 10^decimals).
func FromScaled(mantissa uint64, decimals uint8) decimal.Decimal {
	return FromUint64(mantissa).Shift(-int32(decimals))
}

// FloorUint64 floors d and converts it back to an integer amount.
// It fails when the result is negative or does not fit in 64 bits.
func FloorUint64(d decimal.Decimal) (uint64, error) {
	floored := d.Floor()
	if floored.IsNegative() {
		return 0, fmt.Errorf("value %s is negative", d)
	}
	bi := floored.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("value %s overflows uint64", d)
	}
	return bi.Uint64(), nil
}

// ToScaled floors price×10^decimals into a fixed-point integer.
func ToScaled(price decimal.Decimal, decimals uint8) (uint64, error) {
	return FloorUint64(price.Shift(int32(decimals)))
}

// AddUint64 is a checked addition.
func AddUint64(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// SubUint64 is a checked subtraction.
func SubUint64(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

// SaturatingSub clamps at zero instead of wrapping.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// MulUint64 is a checked multiplication.
func MulUint64(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint64/b {
		return 0, false
	}
	return a * b, true
}
