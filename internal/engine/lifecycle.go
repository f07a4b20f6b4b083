package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/events"
	"github.com/lucra/lucra-backend/internal/host"
	"github.com/lucra/lucra-backend/internal/loan"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/system"
)

type OriginateRequest struct {
	Owner           address.Address `json:"owner"`
	Loan            address.Address `json:"loan"`
	Lamports        uint64          `json:"lamports"`
	WithLockedStake bool            `json:"withLockedStake"`
}

type OriginateResult struct {
	// Refunded is set when the peg was broken; no loan was created.
	Refunded    bool   `json:"refunded"`
	Amount      uint64 `json:"amount"`
	StakeLocked uint64 `json:"stakeLocked"`
	MarketPrice uint64 `json:"marketPrice"`
}

// Originate opens a loan against lamports of native collateral.
func (e *Engine) Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error) {
	var res OriginateResult
	err := e.run(ctx, "originate", func(ctx context.Context, inv *invocation) error {
		state, err := inv.system(ctx)
		if err != nil {
			return err
		}
		if err := protoerr.Check(state.LoansEnabled, protoerr.LoansNotEnabled, component, "loans_disabled"); err != nil {
			return err
		}
		if req.WithLockedStake {
			if err := protoerr.Check(state.StakingEnabled, protoerr.StakingNotEnabled, component, "staking_disabled"); err != nil {
				return err
			}
		}

		rec, err := inv.tx.Loan(ctx, req.Loan)
		if err != nil {
			return err
		}
		if _, fresh := rec.(loan.Uninitialized); !fresh {
			return protoerr.New(protoerr.InvalidAccountInput, component, "loan_already_initialized")
		}

		if state.PegCheckEnabled {
			mata, err := e.prices.Mata(ctx, inv.now.Slot)
			if err != nil {
				return err
			}
			if e.applyPeg(ctx, inv, state, mata, req.Owner) {
				if err := inv.tx.PutSystem(state); err != nil {
					return err
				}
			}
			if state.PegBroken {
				res = OriginateResult{Refunded: true}
				inv.emit(events.KindRefund, req.Owner, req.Loan, req)
				return nil
			}
		}

		if err := protoerr.Check(req.Lamports > state.MinDeposit, protoerr.InvalidAmount, component, "below_min_deposit"); err != nil {
			return err
		}

		sol, err := e.prices.Sol(ctx, inv.now.Slot)
		if err != nil {
			return err
		}
		collateralUSD := calc.USDValue(req.Lamports, sol, calc.LamportsPerSol)

		var stakeTokens uint64
		if req.WithLockedStake {
			requiredUSD, tokens, err := e.requiredStake(ctx, inv, state, req.Lamports, sol)
			if err != nil {
				return err
			}
			if err := inv.host.Lock(ctx, req.Owner, tokens); err != nil {
				return err
			}
			stakeTokens = tokens
			collateralUSD = collateralUSD.Add(requiredUSD)
		}

		amount, err := calc.LoanAmount(collateralUSD, state.CollateralRequirement)
		if err != nil {
			return protoerr.Math(component, "loan_amount")
		}
		marketPrice, err := calc.ToScaled(sol, calc.PriceDecimals)
		if err != nil {
			return protoerr.Math(component, "market_price")
		}

		if err := e.depositCollateral(ctx, inv, state, req.Owner, req.Lamports); err != nil {
			return err
		}
		if err := inv.host.Mint(ctx, host.Synthetic, req.Owner, amount); err != nil {
			return err
		}
		if err := state.AddOutstanding(amount); err != nil {
			return err
		}
		if err := state.AddCollateral(req.Lamports); err != nil {
			return err
		}

		now := inv.now.UnixTimestamp
		active := &loan.Active{
			Owner:             req.Owner,
			Type:              loan.TypeFor(req.WithLockedStake),
			SolCollateral:     req.Lamports,
			StakingCollateral: stakeTokens,
			MarketPrice:       marketPrice,
			Amount:            amount,
			LastChecked:       now,
			CreatedAt:         now,
		}
		if err := inv.tx.PutLoan(req.Loan, active); err != nil {
			return err
		}
		if err := inv.tx.PutSystem(state); err != nil {
			return err
		}

		res = OriginateResult{Amount: amount, StakeLocked: stakeTokens, MarketPrice: marketPrice}
		inv.emit(events.KindOriginate, req.Owner, req.Loan, active)
		return nil
	})
	return res, err
}

// requiredStake prices the governance stake a locked-stake loan must pledge:
// the dollar value and the token amount covering it.
func (e *Engine) requiredStake(ctx context.Context, inv *invocation, state *system.State, lamports uint64, sol decimal.Decimal) (decimal.Decimal, uint64, error) {
	requiredUSD := calc.RequiredStakeUSD(state.LCP, lamports, sol)
	lucra, err := e.prices.Lucra(ctx, inv.now.Slot)
	if err != nil {
		return decimal.Zero, 0, err
	}
	if !lucra.IsPositive() {
		return decimal.Zero, 0, protoerr.Math(component, "lucra_price_zero")
	}
	tokens, err := calc.FloorUint64(requiredUSD.Div(lucra).Mul(calc.FromUint64(calc.UnitsPerLucra)))
	if err != nil {
		return decimal.Zero, 0, protoerr.Math(component, "required_stake_tokens")
	}
	return requiredUSD, tokens, nil
}

// depositCollateral liquid-stakes lamports and moves the derivative into the
// vault.
func (e *Engine) depositCollateral(ctx context.Context, inv *invocation, state *system.State, owner address.Address, lamports uint64) error {
	derivative, err := inv.host.LiquidStake(ctx, owner, lamports)
	if err != nil {
		return err
	}
	return inv.host.Transfer(ctx, host.Derivative, owner, state.MsolVault, derivative)
}

type AddCollateralRequest struct {
	Owner           address.Address `json:"owner"`
	Loan            address.Address `json:"loan"`
	Lamports        uint64          `json:"lamports"`
	StakeAmount     uint64          `json:"stakeAmount"`
	WithLockedStake bool            `json:"withLockedStake"`
}

// AddCollateral tops up an open loan. The loan amount does not change.
func (e *Engine) AddCollateral(ctx context.Context, req AddCollateralRequest) (*loan.Active, error) {
	var out *loan.Active
	err := e.run(ctx, "add_collateral", func(ctx context.Context, inv *invocation) error {
		state, err := inv.system(ctx)
		if err != nil {
			return err
		}
		a, err := inv.activeLoan(ctx, req.Loan)
		if err != nil {
			return err
		}
		if err := a.CheckOwner(req.Owner); err != nil {
			return err
		}
		if err := a.CheckType(req.WithLockedStake); err != nil {
			return err
		}
		if err := protoerr.Check(req.Lamports > 0, protoerr.InvalidAmount, component, "zero_deposit"); err != nil {
			return err
		}
		if !req.WithLockedStake && req.StakeAmount > 0 {
			return protoerr.New(protoerr.InvalidAmount, component, "stake_on_default_loan")
		}

		if err := e.depositCollateral(ctx, inv, state, req.Owner, req.Lamports); err != nil {
			return err
		}
		var stake uint64
		if req.WithLockedStake && req.StakeAmount > 0 {
			if err := inv.host.Lock(ctx, req.Owner, req.StakeAmount); err != nil {
				return err
			}
			stake = req.StakeAmount
		}
		if err := a.AddCollateral(req.Lamports, stake); err != nil {
			return err
		}
		if err := state.AddCollateral(req.Lamports); err != nil {
			return err
		}

		if err := inv.tx.PutLoan(req.Loan, a); err != nil {
			return err
		}
		if err := inv.tx.PutSystem(state); err != nil {
			return err
		}
		out = a
		inv.emit(events.KindAddCollateral, req.Owner, req.Loan, map[string]uint64{
			"lamports": req.Lamports,
			"stake":    stake,
		})
		return nil
	})
	return out, err
}

type CloseRequest struct {
	Owner           address.Address `json:"owner"`
	Loan            address.Address `json:"loan"`
	Unstake         bool            `json:"unstake"`
	WithLockedStake bool            `json:"withLockedStake"`
}

type CloseResult struct {
	Burned        uint64 `json:"burned"`
	Remaining     uint64 `json:"remaining"`
	Derivative    uint64 `json:"derivative"`
	NativeOut     uint64 `json:"nativeOut"`
	StakeReleased uint64 `json:"stakeReleased"`
}

// Close repays a loan and returns what is left of its collateral. Pending,
// unharvested penalty is forgiven.
func (e *Engine) Close(ctx context.Context, req CloseRequest) (CloseResult, error) {
	var res CloseResult
	err := e.run(ctx, "close", func(ctx context.Context, inv *invocation) error {
		state, err := inv.system(ctx)
		if err != nil {
			return err
		}
		if err := protoerr.Check(state.LoansEnabled, protoerr.LoansNotEnabled, component, "loans_disabled"); err != nil {
			return err
		}
		a, err := inv.activeLoan(ctx, req.Loan)
		if err != nil {
			return err
		}
		if err := a.CheckType(req.WithLockedStake); err != nil {
			return err
		}
		if a.Type == loan.LockedStakeBacked {
			if err := protoerr.Check(state.StakingEnabled, protoerr.StakingNotEnabled, component, "staking_disabled"); err != nil {
				return err
			}
		}
		elapsed := inv.now.UnixTimestamp - a.CreatedAt
		if err := protoerr.Check(elapsed >= state.Epoch, protoerr.Timelock, component, "epoch_not_elapsed"); err != nil {
			return err
		}
		if err := a.CheckOwner(req.Owner); err != nil {
			return err
		}
		held, err := inv.host.Balance(ctx, host.Synthetic, req.Owner)
		if err != nil {
			return err
		}
		if err := protoerr.Check(held >= a.Amount, protoerr.InvalidAmount, component, "insufficient_mata"); err != nil {
			return err
		}

		if err := inv.host.Burn(ctx, host.Synthetic, req.Owner, a.Amount); err != nil {
			return err
		}
		remaining := a.Remaining()
		derivative, err := inv.host.DerivativeForNative(ctx, remaining)
		if err != nil {
			return err
		}
		if err := inv.host.Transfer(ctx, host.Derivative, state.MsolVault, req.Owner, derivative); err != nil {
			return err
		}
		var nativeOut uint64
		if req.Unstake && derivative > 0 {
			if nativeOut, err = inv.host.LiquidUnstake(ctx, req.Owner, derivative); err != nil {
				return err
			}
		}
		if a.Type == loan.LockedStakeBacked {
			if err := inv.host.Release(ctx, req.Owner, a.StakingCollateral); err != nil {
				return err
			}
		}

		state.RemoveOutstanding(a.Amount)
		state.RemoveCollateral(remaining)
		a.Repaid = true

		if err := inv.tx.PutLoan(req.Loan, a); err != nil {
			return err
		}
		if err := inv.tx.PutSystem(state); err != nil {
			return err
		}
		res = CloseResult{
			Burned:        a.Amount,
			Remaining:     remaining,
			Derivative:    derivative,
			NativeOut:     nativeOut,
			StakeReleased: a.StakingCollateral,
		}
		if a.Type != loan.LockedStakeBacked {
			res.StakeReleased = 0
		}
		inv.emit(events.KindClose, req.Owner, req.Loan, res)
		return nil
	})
	return res, err
}

// activeLoan loads an originated, unrepaid loan. The repaid check runs
// first, ahead of every other field check.
func (inv *invocation) activeLoan(ctx context.Context, addr address.Address) (*loan.Active, error) {
	rec, err := inv.tx.Loan(ctx, addr)
	if err != nil {
		return nil, err
	}
	a, err := loan.RequireActive(rec)
	if err != nil {
		return nil, err
	}
	if err := a.CheckOpen(); err != nil {
		return nil, err
	}
	return a, nil
}
