package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/store"
)

// StakeAccount is an owner's governance stake. Locked stake backs loans and
// cannot be withdrawn.
type StakeAccount struct {
	Total  uint64 `json:"total"`
	Locked uint64 `json:"locked"`
}

// Unlocked is the stake still free to pledge.
func (s StakeAccount) Unlocked() uint64 {
	return calc.SaturatingSub(s.Total, s.Locked)
}

// StakeKey addresses an owner's stake account.
func StakeKey(owner address.Address) string {
	return "lcr:host:stake:" + owner.String()
}

// StakeAccount loads owner's stake, zero if none.
func (h *Host) StakeAccount(ctx context.Context, owner address.Address) (StakeAccount, error) {
	var s StakeAccount
	err := h.tx.Get(ctx, StakeKey(owner), store.DiscStakeAccount, &s)
	if errors.Is(err, store.ErrNotFound) {
		return StakeAccount{}, nil
	}
	if err != nil {
		return StakeAccount{}, fmt.Errorf("load stake account: %w", err)
	}
	return s, nil
}

func (h *Host) putStake(owner address.Address, s StakeAccount) error {
	return h.tx.Put(StakeKey(owner), store.DiscStakeAccount, s)
}

// Stake moves governance tokens from owner's balance into their stake.
func (h *Host) Stake(ctx context.Context, owner address.Address, amount uint64) error {
	s, err := h.StakeAccount(ctx, owner)
	if err != nil {
		return err
	}
	if err := h.Burn(ctx, Governance, owner, amount); err != nil {
		return err
	}
	var ok bool
	if s.Total, ok = calc.AddUint64(s.Total, amount); !ok {
		return protoerr.Math(component, "stake_overflow")
	}
	return h.putStake(owner, s)
}

// Lock pledges amount of owner's unlocked stake.
func (h *Host) Lock(ctx context.Context, owner address.Address, amount uint64) error {
	s, err := h.StakeAccount(ctx, owner)
	if err != nil {
		return err
	}
	if amount > s.Unlocked() {
		return protoerr.New(protoerr.InvalidAmount, component, "insufficient_unlocked_stake")
	}
	s.Locked += amount
	return h.putStake(owner, s)
}

// Release frees amount of owner's locked stake.
func (h *Host) Release(ctx context.Context, owner address.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	s, err := h.StakeAccount(ctx, owner)
	if err != nil {
		return err
	}
	s.Locked = calc.SaturatingSub(s.Locked, amount)
	return h.putStake(owner, s)
}
