package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/store"
)

// KeyStakePool holds the liquid-staking pool record.
const KeyStakePool = "lcr:host:stakepool"

// StakePool is the liquid-staking pool. The exchange rate is
// TotalNative/TotalDerivative native units per derivative unit; an empty
// pool trades one for one.
type StakePool struct {
	TotalNative     uint64 `json:"totalNative"`
	TotalDerivative uint64 `json:"totalDerivative"`
}

// NativePerDerivative is the pool's current exchange rate.
func (p StakePool) NativePerDerivative() decimal.Decimal {
	if p.TotalNative == 0 || p.TotalDerivative == 0 {
		return decimal.NewFromInt(1)
	}
	return calc.FromUint64(p.TotalNative).Div(calc.FromUint64(p.TotalDerivative))
}

// StakePool loads the pool, zero-valued if never seeded.
func (h *Host) StakePool(ctx context.Context) (StakePool, error) {
	var p StakePool
	err := h.tx.Get(ctx, KeyStakePool, store.DiscStakePool, &p)
	if errors.Is(err, store.ErrNotFound) {
		return StakePool{}, nil
	}
	if err != nil {
		return StakePool{}, fmt.Errorf("load stake pool: %w", err)
	}
	return p, nil
}

// PutStakePool overwrites the pool record.
func (h *Host) PutStakePool(p StakePool) error {
	return h.tx.Put(KeyStakePool, store.DiscStakePool, p)
}

// DerivativeForNative converts lamports to derivative units at the current
// rate, rounding down.
func (h *Host) DerivativeForNative(ctx context.Context, lamports uint64) (uint64, error) {
	p, err := h.StakePool(ctx)
	if err != nil {
		return 0, err
	}
	return derivativeFor(p, lamports)
}

func derivativeFor(p StakePool, lamports uint64) (uint64, error) {
	v, err := calc.FloorUint64(calc.FromUint64(lamports).Div(p.NativePerDerivative()))
	if err != nil {
		return 0, protoerr.Math(component, "derivative_conversion")
	}
	return v, nil
}

func nativeFor(p StakePool, derivative uint64) (uint64, error) {
	v, err := calc.FloorUint64(calc.FromUint64(derivative).Mul(p.NativePerDerivative()))
	if err != nil {
		return 0, protoerr.Math(component, "native_conversion")
	}
	return v, nil
}

// LiquidStake takes lamports of native coin from owner and mints the
// derivative back to owner.
func (h *Host) LiquidStake(ctx context.Context, owner address.Address, lamports uint64) (uint64, error) {
	p, err := h.StakePool(ctx)
	if err != nil {
		return 0, err
	}
	minted, err := derivativeFor(p, lamports)
	if err != nil {
		return 0, err
	}
	if err := h.Burn(ctx, Native, owner, lamports); err != nil {
		return 0, err
	}
	var ok bool
	if p.TotalNative, ok = calc.AddUint64(p.TotalNative, lamports); !ok {
		return 0, protoerr.Math(component, "pool_native_overflow")
	}
	if p.TotalDerivative, ok = calc.AddUint64(p.TotalDerivative, minted); !ok {
		return 0, protoerr.Math(component, "pool_derivative_overflow")
	}
	if err := h.PutStakePool(p); err != nil {
		return 0, err
	}
	return minted, h.Mint(ctx, Derivative, owner, minted)
}

// LiquidUnstake burns owner's derivative and pays out native coin.
func (h *Host) LiquidUnstake(ctx context.Context, owner address.Address, derivative uint64) (uint64, error) {
	p, err := h.StakePool(ctx)
	if err != nil {
		return 0, err
	}
	out, err := nativeFor(p, derivative)
	if err != nil {
		return 0, err
	}
	if err := h.Burn(ctx, Derivative, owner, derivative); err != nil {
		return 0, err
	}
	p.TotalDerivative = calc.SaturatingSub(p.TotalDerivative, derivative)
	if p.TotalNative < out {
		return 0, protoerr.New(protoerr.InvalidAmount, component, "pool_liquidity")
	}
	p.TotalNative -= out
	if err := h.PutStakePool(p); err != nil {
		return 0, err
	}
	return out, h.Mint(ctx, Native, owner, out)
}
