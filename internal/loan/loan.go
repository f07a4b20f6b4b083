// Package loan defines the per-position credit record.
package loan

import (
	"github.com/shopspring/decimal"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/protoerr"
)

const component = "loan"

// Type selects which collateral combination backs a loan. It never changes
// after origination.
type Type uint8

const (
	Default Type = iota
	LockedStakeBacked
)

func (t Type) String() string {
	if t == LockedStakeBacked {
		return "locked_stake_backed"
	}
	return "default"
}

// TypeFor maps the request's stake flag to a loan type.
func TypeFor(withLockedStake bool) Type {
	if withLockedStake {
		return LockedStakeBacked
	}
	return Default
}

// Record is either Uninitialized or *Active.
type Record interface {
	isRecord()
}

// Uninitialized is a loan address that has never been originated.
type Uninitialized struct{}

func (Uninitialized) isRecord() {}

// Active is an originated loan, repaid or not.
type Active struct {
	Owner             address.Address `json:"owner"`
	Type              Type            `json:"type"`
	SolCollateral     uint64          `json:"solCollateral"`
	StakingCollateral uint64          `json:"stakingCollateral"`
	MarketPrice       uint64          `json:"marketPrice"`
	Amount            uint64          `json:"amount"`
	PenaltyHarvested  uint64          `json:"penaltyHarvested"`
	PenaltyToHarvest  uint64          `json:"penaltyToHarvest"`
	LastChecked       int64           `json:"lastChecked"`
	CreatedAt         int64           `json:"createdAt"`
	Repaid            bool            `json:"repaid"`
}

func (*Active) isRecord() {}

// RequireActive narrows rec to an originated loan.
func RequireActive(rec Record) (*Active, error) {
	a, ok := rec.(*Active)
	if !ok || a == nil {
		return nil, protoerr.New(protoerr.InvalidAccountInput, component, "loan_not_initialized")
	}
	return a, nil
}

// CheckOpen fails once the loan is repaid. Every mutating instruction runs
// it before anything else.
func (a *Active) CheckOpen() error {
	return protoerr.Check(!a.Repaid, protoerr.InvalidAccountInput, component, "loan_repaid")
}

// CheckOwner fails unless owner operates the loan.
func (a *Active) CheckOwner(owner address.Address) error {
	return protoerr.Check(a.Owner == owner, protoerr.InvalidAccountOwner, component, "owner_mismatch")
}

// CheckType fails unless the request's stake flag matches the loan type.
func (a *Active) CheckType(withLockedStake bool) error {
	return protoerr.Check(a.Type == TypeFor(withLockedStake), protoerr.InvalidLoanType, component, "loan_type_mismatch")
}

// HarvestableRoom is the native collateral not yet claimed by penalty.
func (a *Active) HarvestableRoom() uint64 {
	return calc.SaturatingSub(a.SolCollateral, a.PenaltyHarvested)
}

// Remaining is the collateral returned on close.
func (a *Active) Remaining() uint64 {
	return a.HarvestableRoom()
}

// AddCollateral grows both collateral legs.
func (a *Active) AddCollateral(lamports, stake uint64) error {
	sol, ok := calc.AddUint64(a.SolCollateral, lamports)
	if !ok {
		return protoerr.Math(component, "sol_collateral_overflow")
	}
	st, ok := calc.AddUint64(a.StakingCollateral, stake)
	if !ok {
		return protoerr.Math(component, "staking_collateral_overflow")
	}
	a.SolCollateral = sol
	a.StakingCollateral = st
	return nil
}

// AddPenalty accrues charge, keeping PenaltyHarvested+PenaltyToHarvest within
// SolCollateral.
func (a *Active) AddPenalty(charge uint64) error {
	total, ok := calc.AddUint64(a.PenaltyToHarvest, charge)
	if !ok {
		return protoerr.Math(component, "penalty_overflow")
	}
	if room := a.HarvestableRoom(); total > room {
		total = room
	}
	a.PenaltyToHarvest = total
	return nil
}

// SettleHarvest moves the pending penalty into the harvested total.
func (a *Active) SettleHarvest() (uint64, error) {
	pending := a.PenaltyToHarvest
	harvested, ok := calc.AddUint64(a.PenaltyHarvested, pending)
	if !ok {
		return 0, protoerr.Math(component, "harvested_overflow")
	}
	a.PenaltyHarvested = harvested
	a.PenaltyToHarvest = 0
	return pending, nil
}

// Rate bands, in hundredths of a unit of annual rate.
var rateBands = []struct {
	minRatio decimal.Decimal
	rate     uint32
}{
	{decimal.NewFromInt(2), 0},
	{decimal.RequireFromString("1.5"), 100},
	{decimal.NewFromInt(1), 400},
	{decimal.RequireFromString("0.5"), 1000},
	{decimal.RequireFromString("0.25"), 1800},
}

// MaxPenaltyRate applies below the lowest collateral band.
const MaxPenaltyRate uint32 = 3600

// PenaltyRate looks up the annual penalty rate for a loan whose collateral is
// worth collateralUSD. A loan with no debt carries no rate.
func (a *Active) PenaltyRate(collateralUSD decimal.Decimal) uint32 {
	if a.Amount == 0 {
		return 0
	}
	ratio := calc.CollateralRatio(collateralUSD, a.Amount)
	for _, band := range rateBands {
		if ratio.GreaterThanOrEqual(band.minRatio) {
			return band.rate
		}
	}
	return MaxPenaltyRate
}
