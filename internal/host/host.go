// Package host simulates the collaborators a loan instruction calls out to:
// token accounts, the liquid-staking pool, the two swap venues and the
// governance stake registry. Every effect is staged on the caller's
// store.Tx, so it commits or rolls back with the instruction itself.
package host

import (
	"context"
	"fmt"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/store"
)

const component = "host"

// Asset names a token kind held in host accounts.
type Asset string

const (
	Native        Asset = "sol"
	WrappedNative Asset = "wsol"
	Derivative    Asset = "msol"
	Synthetic     Asset = "mata"
	Governance    Asset = "lucra"
	Reward        Asset = "reward"
)

// Assets lists every asset kind.
func Assets() []Asset {
	return []Asset{Native, WrappedNative, Derivative, Synthetic, Governance, Reward}
}

// ParseAsset maps a name to its Asset.
func ParseAsset(s string) (Asset, error) {
	for _, a := range Assets() {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown asset %q", s)
}

// Host is bound to one invocation's transaction.
type Host struct {
	tx *store.Tx
}

// Bind returns a host staging into tx.
func Bind(tx *store.Tx) *Host {
	return &Host{tx: tx}
}

// Balance reads owner's balance of asset.
func (h *Host) Balance(ctx context.Context, asset Asset, owner address.Address) (uint64, error) {
	return h.tx.Balance(ctx, string(asset), owner)
}

// Mint credits amount of asset to owner.
func (h *Host) Mint(ctx context.Context, asset Asset, to address.Address, amount uint64) error {
	bal, err := h.Balance(ctx, asset, to)
	if err != nil {
		return err
	}
	next, ok := calc.AddUint64(bal, amount)
	if !ok {
		return protoerr.Math(component, "mint_overflow")
	}
	return h.tx.PutBalance(string(asset), to, next)
}

// Burn debits amount of asset from owner. An insufficient balance fails
// InvalidAmount.
func (h *Host) Burn(ctx context.Context, asset Asset, from address.Address, amount uint64) error {
	bal, err := h.Balance(ctx, asset, from)
	if err != nil {
		return err
	}
	next, ok := calc.SubUint64(bal, amount)
	if !ok {
		return protoerr.New(protoerr.InvalidAmount, component, "insufficient_"+string(asset))
	}
	return h.tx.PutBalance(string(asset), from, next)
}

// Transfer moves amount of asset between two accounts.
func (h *Host) Transfer(ctx context.Context, asset Asset, from, to address.Address, amount uint64) error {
	if from == to || amount == 0 {
		return nil
	}
	if err := h.Burn(ctx, asset, from, amount); err != nil {
		return err
	}
	return h.Mint(ctx, asset, to, amount)
}

// Wrap converts native coin into its wrapped token one for one.
func (h *Host) Wrap(ctx context.Context, owner address.Address, amount uint64) error {
	if err := h.Burn(ctx, Native, owner, amount); err != nil {
		return err
	}
	return h.Mint(ctx, WrappedNative, owner, amount)
}
