package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/loan"
	"github.com/lucra/lucra-backend/internal/pricehistory"
	"github.com/lucra/lucra-backend/internal/system"
	"github.com/lucra/lucra-backend/pkg/kv"
)

// Record keys
const (
	KeySystem       = "lcr:system"
	KeyPriceHistory = "lcr:pricehistory"
	KeyLoanIndex    = "lcr:loans"
	keyLoanPrefix   = "lcr:loan:"
)

// LoanKey addresses one loan record.
func LoanKey(a address.Address) string {
	return keyLoanPrefix + a.String()
}

// BalanceKey addresses one token balance.
func BalanceKey(asset string, owner address.Address) string {
	return fmt.Sprintf("lcr:bal:%s:%s", asset, owner)
}

// System loads the system record.
func (tx *Tx) System(ctx context.Context) (*system.State, error) {
	var s system.State
	if err := tx.Get(ctx, KeySystem, DiscSystem, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (tx *Tx) PutSystem(s *system.State) error {
	return tx.Put(KeySystem, DiscSystem, s)
}

// PriceHistory loads the price-history record.
func (tx *Tx) PriceHistory(ctx context.Context) (*pricehistory.History, error) {
	var h pricehistory.History
	if err := tx.Get(ctx, KeyPriceHistory, DiscPriceHistory, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (tx *Tx) PutPriceHistory(h *pricehistory.History) error {
	return tx.Put(KeyPriceHistory, DiscPriceHistory, h)
}

// Loan loads the loan at addr. An address never originated yields
// loan.Uninitialized.
func (tx *Tx) Loan(ctx context.Context, addr address.Address) (loan.Record, error) {
	var a loan.Active
	err := tx.Get(ctx, LoanKey(addr), DiscLoan, &a)
	if errors.Is(err, ErrNotFound) {
		return loan.Uninitialized{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// PutLoan stages the loan record and indexes its address.
func (tx *Tx) PutLoan(addr address.Address, a *loan.Active) error {
	if err := tx.Put(LoanKey(addr), DiscLoan, a); err != nil {
		return err
	}
	tx.AddToSet(KeyLoanIndex, addr[:])
	return nil
}

// balance is the persisted form of a token account.
type balance struct {
	Amount uint64
}

// Balance reads a token balance; a missing account holds zero.
func (tx *Tx) Balance(ctx context.Context, asset string, owner address.Address) (uint64, error) {
	var b balance
	err := tx.Get(ctx, BalanceKey(asset, owner), DiscBalance, &b)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return b.Amount, nil
}

func (tx *Tx) PutBalance(asset string, owner address.Address, amount uint64) error {
	return tx.Put(BalanceKey(asset, owner), DiscBalance, balance{Amount: amount})
}

// LoanAddresses lists every originated loan.
func (l *Ledger) LoanAddresses(ctx context.Context) ([]address.Address, error) {
	members, err := l.kv.SMembers(ctx, KeyLoanIndex)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	out := make([]address.Address, 0, len(members))
	for _, m := range members {
		if len(m) != address.Size {
			continue
		}
		var a address.Address
		copy(a[:], m)
		out = append(out, a)
	}
	return out, nil
}
