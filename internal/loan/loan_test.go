package loan

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/protoerr"
)

func TestPenaltyRate(t *testing.T) {
	// 100 MATA of debt
	a := &Active{Amount: 100_000_000}

	tests := []struct {
		usd  string
		rate uint32
	}{
		{"250", 0},
		{"200", 0},
		{"199.99", 100},
		{"150", 100},
		{"149", 400},
		{"100", 400},
		{"99", 1000},
		{"50", 1000},
		{"49", 1800},
		{"25", 1800},
		{"24.99", 3600},
		{"0", 3600},
	}
	for _, tt := range tests {
		t.Run(tt.usd, func(t *testing.T) {
			assert.Equal(t, tt.rate, a.PenaltyRate(decimal.RequireFromString(tt.usd)))
		})
	}

	assert.Zero(t, (&Active{}).PenaltyRate(decimal.Zero))
}

func TestRequireActive(t *testing.T) {
	_, err := RequireActive(Uninitialized{})
	assert.True(t, errors.Is(err, protoerr.InvalidAccountInput))

	var nilActive *Active
	_, err = RequireActive(nilActive)
	assert.Error(t, err)

	a, err := RequireActive(&Active{Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.Amount)
}

func TestChecks(t *testing.T) {
	owner := address.FromSeed("owner")
	a := &Active{Owner: owner, Type: LockedStakeBacked}

	assert.NoError(t, a.CheckOpen())
	assert.NoError(t, a.CheckOwner(owner))
	assert.True(t, errors.Is(a.CheckOwner(address.FromSeed("other")), protoerr.InvalidAccountOwner))
	assert.NoError(t, a.CheckType(true))
	assert.True(t, errors.Is(a.CheckType(false), protoerr.InvalidLoanType))

	a.Repaid = true
	assert.True(t, errors.Is(a.CheckOpen(), protoerr.InvalidAccountInput))
}

func TestAddPenaltyCaps(t *testing.T) {
	a := &Active{SolCollateral: 1_000, PenaltyHarvested: 300}

	require.NoError(t, a.AddPenalty(500))
	assert.Equal(t, uint64(500), a.PenaltyToHarvest)

	require.NoError(t, a.AddPenalty(500))
	assert.Equal(t, uint64(700), a.PenaltyToHarvest)
	assert.LessOrEqual(t, a.PenaltyHarvested+a.PenaltyToHarvest, a.SolCollateral)

	settled, err := a.SettleHarvest()
	require.NoError(t, err)
	assert.Equal(t, uint64(700), settled)
	assert.Equal(t, uint64(1_000), a.PenaltyHarvested)
	assert.Zero(t, a.PenaltyToHarvest)
	assert.Zero(t, a.Remaining())
}

func TestAddCollateral(t *testing.T) {
	a := &Active{SolCollateral: 10, StakingCollateral: 1}
	require.NoError(t, a.AddCollateral(5, 2))
	assert.Equal(t, uint64(15), a.SolCollateral)
	assert.Equal(t, uint64(3), a.StakingCollateral)

	err := a.AddCollateral(^uint64(0), 0)
	assert.True(t, errors.Is(err, protoerr.MathError))
	assert.Equal(t, uint64(15), a.SolCollateral)
}
