package engine

import (
	"context"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/events"
	"github.com/lucra/lucra-backend/internal/host"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/penalty"
	"github.com/lucra/lucra-backend/internal/protoerr"
)

// RewardUnits is paid to whoever runs a keeper instruction.
const RewardUnits uint64 = 1

type DeterminePenaltyRequest struct {
	Caller address.Address `json:"caller"`
	Loan   address.Address `json:"loan"`
}

type DeterminePenaltyResult struct {
	Charge           uint64 `json:"charge"`
	Multiplier       uint64 `json:"multiplier"`
	PenaltyToHarvest uint64 `json:"penaltyToHarvest"`
	PegBroken        bool   `json:"pegBroken"`
}

// DeterminePenalty accrues penalty for every day since the loan was last
// checked.
func (e *Engine) DeterminePenalty(ctx context.Context, req DeterminePenaltyRequest) (DeterminePenaltyResult, error) {
	var res DeterminePenaltyResult
	err := e.run(ctx, "determine_penalty", func(ctx context.Context, inv *invocation) error {
		state, err := inv.system(ctx)
		if err != nil {
			return err
		}
		history, err := inv.history(ctx)
		if err != nil {
			return err
		}
		a, err := inv.activeLoan(ctx, req.Loan)
		if err != nil {
			return err
		}
		if err := protoerr.Check(a.PenaltyHarvested < a.SolCollateral, protoerr.InvalidAmount, component, "collateral_fully_harvested"); err != nil {
			return err
		}

		mata, err := e.prices.Mata(ctx, inv.now.Slot)
		if err != nil {
			return err
		}
		if e.applyPeg(ctx, inv, state, mata, req.Caller) {
			if err := inv.tx.PutSystem(state); err != nil {
				return err
			}
		}

		multiplier := penalty.Multiplier(mata)
		charge, err := penalty.Accrue(history, a, multiplier, inv.now.UnixTimestamp, e.params)
		if err != nil {
			return err
		}
		before := a.PenaltyToHarvest
		if err := a.AddPenalty(charge); err != nil {
			return err
		}
		a.LastChecked = inv.now.UnixTimestamp

		if err := inv.host.Mint(ctx, host.Reward, req.Caller, RewardUnits); err != nil {
			return err
		}
		if err := inv.tx.PutLoan(req.Loan, a); err != nil {
			return err
		}

		accrued := a.PenaltyToHarvest - before
		inv.onCommit(func(ctx context.Context) { e.metrics.RecordPenaltyAccrued(ctx, accrued) })
		res = DeterminePenaltyResult{
			Charge:           accrued,
			Multiplier:       multiplier,
			PenaltyToHarvest: a.PenaltyToHarvest,
			PegBroken:        state.PegBroken,
		}
		inv.emit(events.KindDeterminePenalty, req.Caller, req.Loan, res)
		return nil
	})
	return res, err
}

type HarvestRequest struct {
	Caller address.Address `json:"caller"`
	Loan   address.Address `json:"loan"`
	Venue  oracle.Venue    `json:"venue"`
}

type HarvestResult struct {
	Penalty    uint64 `json:"penalty"`
	Derivative uint64 `json:"derivative"`
	Received   uint64 `json:"received"`
	Swapped    uint64 `json:"swapped"`
	Burned     uint64 `json:"burned"`
	Venue      string `json:"venue"`
}

// HarvestPenalty liquidates a loan's pending penalty through venue and burns
// the synthetic asset it buys.
func (e *Engine) HarvestPenalty(ctx context.Context, req HarvestRequest) (HarvestResult, error) {
	var res HarvestResult
	err := e.run(ctx, "harvest_penalty", func(ctx context.Context, inv *invocation) error {
		if err := e.prices.VerifyVenue(ctx, req.Venue); err != nil {
			return err
		}
		state, err := inv.system(ctx)
		if err != nil {
			return err
		}
		a, err := inv.activeLoan(ctx, req.Loan)
		if err != nil {
			return err
		}
		if err := protoerr.Check(a.PenaltyToHarvest >= state.MinimumHarvestAmount, protoerr.NoPenaltyToHarvest, component, "below_minimum_harvest"); err != nil {
			return err
		}

		pending := a.PenaltyToHarvest
		derivative, err := inv.host.DerivativeForNative(ctx, pending)
		if err != nil {
			return err
		}
		if err := inv.host.Transfer(ctx, host.Derivative, state.MsolVault, req.Caller, derivative); err != nil {
			return err
		}
		received, err := inv.host.LiquidUnstake(ctx, req.Caller, derivative)
		if err != nil {
			return err
		}
		net, ok := calc.SubUint64(received, state.RewardFee)
		if !ok {
			return protoerr.Math(component, "reward_fee_exceeds_proceeds")
		}
		if err := inv.host.Wrap(ctx, req.Caller, net); err != nil {
			return err
		}

		before, err := inv.host.Balance(ctx, host.Synthetic, req.Caller)
		if err != nil {
			return err
		}
		if _, err := inv.host.Swap(ctx, req.Venue, req.Caller, net); err != nil {
			return err
		}
		after, err := inv.host.Balance(ctx, host.Synthetic, req.Caller)
		if err != nil {
			return err
		}
		burned, err := calc.ValidateBalanceDelta(before, after, "synthetic")
		if err != nil {
			return protoerr.Math(component, "swap_balance_delta")
		}
		if err := inv.host.Burn(ctx, host.Synthetic, req.Caller, burned); err != nil {
			return err
		}

		state.RemoveOutstanding(burned)
		state.RemoveCollateral(pending)
		if _, err := a.SettleHarvest(); err != nil {
			return err
		}

		if err := inv.tx.PutLoan(req.Loan, a); err != nil {
			return err
		}
		if err := inv.tx.PutSystem(state); err != nil {
			return err
		}

		venue := req.Venue.String()
		inv.onCommit(func(ctx context.Context) { e.metrics.RecordPenaltyHarvested(ctx, venue, pending) })
		res = HarvestResult{
			Penalty:    pending,
			Derivative: derivative,
			Received:   received,
			Swapped:    net,
			Burned:     burned,
			Venue:      venue,
		}
		inv.emit(events.KindHarvestPenalty, req.Caller, req.Loan, res)
		return nil
	})
	return res, err
}
