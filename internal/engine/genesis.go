package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/events"
	"github.com/lucra/lucra-backend/internal/host"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/store"
	"github.com/lucra/lucra-backend/internal/system"
)

// Genesis is the one-time system configuration plus the simulated host's
// opening state.
type Genesis struct {
	MinDeposit            uint64 `toml:"min_deposit"`
	CollateralRequirement uint64 `toml:"collateral_requirement"`
	LCP                   uint64 `toml:"lcp"`
	Epoch                 int64  `toml:"epoch"`
	PegToleranceBps       uint64 `toml:"peg_tolerance_bps"`
	MinimumHarvestAmount  uint64 `toml:"minimum_harvest_amount"`
	RewardFee             uint64 `toml:"reward_fee"`

	LoansEnabled    bool `toml:"loans_enabled"`
	StakingEnabled  bool `toml:"staking_enabled"`
	PegCheckEnabled bool `toml:"peg_check_enabled"`

	MataMint         address.Address `toml:"mata_mint"`
	LucraMint        address.Address `toml:"lucra_mint"`
	RewardMint       address.Address `toml:"reward_mint"`
	MsolVault        address.Address `toml:"msol_vault"`
	CreatorAuthority address.Address `toml:"creator_authority"`

	StakePool StakePoolSeed `toml:"stake_pool"`
	Pools     []PoolSeed    `toml:"pools"`
	Balances  []BalanceSeed `toml:"balances"`
	Stakes    []StakeSeed   `toml:"stakes"`
}

type StakePoolSeed struct {
	TotalNative     uint64 `toml:"total_native"`
	TotalDerivative uint64 `toml:"total_derivative"`
}

type PoolSeed struct {
	Venue            string `toml:"venue"`
	ReserveNative    uint64 `toml:"reserve_native"`
	ReserveSynthetic uint64 `toml:"reserve_synthetic"`
	FeeBps           uint64 `toml:"fee_bps"`
}

type BalanceSeed struct {
	Owner  address.Address `toml:"owner"`
	Asset  string          `toml:"asset"`
	Amount uint64          `toml:"amount"`
}

type StakeSeed struct {
	Owner  address.Address `toml:"owner"`
	Amount uint64          `toml:"amount"`
}

// LoadGenesis decodes a TOML genesis file.
func LoadGenesis(path string) (Genesis, error) {
	var g Genesis
	md, err := toml.DecodeFile(path, &g)
	if err != nil {
		return Genesis{}, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Genesis{}, fmt.Errorf("genesis %s: unknown keys %v", path, undecoded)
	}
	return g, nil
}

func (g Genesis) state() system.State {
	s := system.State{
		LoansEnabled:          g.LoansEnabled,
		StakingEnabled:        g.StakingEnabled,
		PegCheckEnabled:       g.PegCheckEnabled,
		CollateralRequirement: g.CollateralRequirement,
		LCP:                   g.LCP,
		MinDeposit:            g.MinDeposit,
		Epoch:                 g.Epoch,
		MinimumHarvestAmount:  g.MinimumHarvestAmount,
		RewardFee:             g.RewardFee,
		PegToleranceBps:       g.PegToleranceBps,
		MataMint:              g.MataMint,
		LucraMint:             g.LucraMint,
		RewardMint:            g.RewardMint,
		MsolVault:             g.MsolVault,
		CreatorAuthority:      g.CreatorAuthority,
	}
	if s.CollateralRequirement == 0 {
		s.CollateralRequirement = system.DefaultCollateralRequirement
	}
	if s.MinimumHarvestAmount == 0 {
		s.MinimumHarvestAmount = system.DefaultMinimumHarvestAmount
	}
	if s.RewardFee == 0 {
		s.RewardFee = system.DefaultRewardFee
	}
	if s.PegToleranceBps == 0 {
		s.PegToleranceBps = system.DefaultPegToleranceBps
	}
	if s.MsolVault.IsZero() {
		s.MsolVault = address.FromSeed("msol_vault")
	}
	return s
}

// InitializeSystem writes the system record and seeds the host. It runs once;
// a second call fails InvalidAccountInput.
func (e *Engine) InitializeSystem(ctx context.Context, g Genesis) error {
	return e.run(ctx, "initialize", func(ctx context.Context, inv *invocation) error {
		if _, err := inv.tx.System(ctx); err == nil {
			return protoerr.New(protoerr.InvalidAccountInput, component, "system_already_initialized")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		state := g.state()
		if state.CreatorAuthority.IsZero() {
			return protoerr.New(protoerr.InvalidAccountInput, component, "creator_authority_unset")
		}
		if err := inv.tx.PutSystem(&state); err != nil {
			return err
		}

		if g.StakePool.TotalNative > 0 || g.StakePool.TotalDerivative > 0 {
			if err := inv.host.PutStakePool(host.StakePool(g.StakePool)); err != nil {
				return err
			}
		}
		for _, p := range g.Pools {
			v, err := oracle.ParseVenue(p.Venue)
			if err != nil {
				return protoerr.New(protoerr.InvalidAccountInput, component, "genesis_pool_venue")
			}
			pool := host.Pool{ReserveNative: p.ReserveNative, ReserveSynthetic: p.ReserveSynthetic, FeeBps: p.FeeBps}
			if err := inv.host.PutPool(v, pool); err != nil {
				return err
			}
		}
		for _, b := range g.Balances {
			asset, err := host.ParseAsset(b.Asset)
			if err != nil {
				return protoerr.New(protoerr.InvalidAccountInput, component, "genesis_balance_asset")
			}
			if err := inv.host.Mint(ctx, asset, b.Owner, b.Amount); err != nil {
				return err
			}
		}
		for _, s := range g.Stakes {
			if err := inv.host.Mint(ctx, host.Governance, s.Owner, s.Amount); err != nil {
				return err
			}
			if err := inv.host.Stake(ctx, s.Owner, s.Amount); err != nil {
				return err
			}
		}

		inv.emit(events.KindInitialize, state.CreatorAuthority, address.Zero, state)
		return nil
	})
}
