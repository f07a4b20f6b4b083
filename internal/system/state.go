// Package system holds the global state record shared by every loan
// instruction.
package system

import (
	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/protoerr"
)

const component = "system_state"

// Default economic parameters of the reference deployment.
const (
	DefaultRewardFee             uint64 = 5_500
	DefaultMinimumHarvestAmount  uint64 = DefaultRewardFee * 100
	DefaultPegToleranceBps       uint64 = 500
	DefaultCollateralRequirement uint64 = 300
)

// State is the singleton system record.
type State struct {
	PegBroken       bool `json:"pegBroken"`
	LoansEnabled    bool `json:"loansEnabled"`
	StakingEnabled  bool `json:"stakingEnabled"`
	PegCheckEnabled bool `json:"pegCheckEnabled"`

	CollateralRequirement uint64 `json:"collateralRequirement"`
	LCP                   uint64 `json:"lcp"`
	MinDeposit            uint64 `json:"minDeposit"`
	Epoch                 int64  `json:"epoch"`
	MinimumHarvestAmount  uint64 `json:"minimumHarvestAmount"`
	RewardFee             uint64 `json:"rewardFee"`
	PegToleranceBps       uint64 `json:"pegToleranceBps"`

	TotalOutstandingMata uint64 `json:"totalOutstandingMata"`
	TotalCollateral      uint64 `json:"totalCollateral"`

	MataMint         address.Address `json:"mataMint"`
	LucraMint        address.Address `json:"lucraMint"`
	RewardMint       address.Address `json:"rewardMint"`
	MsolVault        address.Address `json:"msolVault"`
	CreatorAuthority address.Address `json:"creatorAuthority"`
}

// AddOutstanding records newly minted debt.
func (s *State) AddOutstanding(amount uint64) error {
	v, ok := calc.AddUint64(s.TotalOutstandingMata, amount)
	if !ok {
		return protoerr.Math(component, "outstanding_overflow")
	}
	s.TotalOutstandingMata = v
	return nil
}

// AddCollateral records newly posted collateral.
func (s *State) AddCollateral(lamports uint64) error {
	v, ok := calc.AddUint64(s.TotalCollateral, lamports)
	if !ok {
		return protoerr.Math(component, "collateral_overflow")
	}
	s.TotalCollateral = v
	return nil
}

// RemoveOutstanding retires burned debt, clamping at zero.
func (s *State) RemoveOutstanding(amount uint64) {
	s.TotalOutstandingMata = calc.SaturatingSub(s.TotalOutstandingMata, amount)
}

// RemoveCollateral retires released or harvested collateral, clamping at zero.
func (s *State) RemoveCollateral(lamports uint64) {
	s.TotalCollateral = calc.SaturatingSub(s.TotalCollateral, lamports)
}
