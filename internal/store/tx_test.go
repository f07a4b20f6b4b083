package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/loan"
	"github.com/lucra/lucra-backend/internal/pricehistory"
	"github.com/lucra/lucra-backend/internal/system"
	memkv "github.com/lucra/lucra-backend/pkg/kv/memory"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	mem := memkv.New(0)
	t.Cleanup(func() { mem.Close() })
	return NewLedger(mem)
}

func TestEncodeDecode(t *testing.T) {
	want := system.State{
		LoansEnabled:          true,
		CollateralRequirement: 300,
		Epoch:                 86_400,
		MataMint:              address.FromSeed("mata"),
	}
	data, err := Encode(DiscSystem, &want)
	require.NoError(t, err)
	assert.Equal(t, byte(DiscSystem), data[0])
	assert.Equal(t, RecordVersion, data[1])

	var got system.State
	require.NoError(t, Decode(data, DiscSystem, &got))
	assert.Equal(t, want, got)

	err = Decode(data, DiscLoan, &got)
	assert.True(t, errors.Is(err, ErrWrongKind))

	zeroed := make([]byte, len(data))
	err = Decode(zeroed, DiscSystem, &got)
	assert.True(t, errors.Is(err, ErrUninitialized))

	err = Decode(data[:1], DiscSystem, &got)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestTxReadYourWrites(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	tx := l.Begin()
	_, err := tx.System(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, tx.PutSystem(&system.State{MinDeposit: 7}))
	s, err := tx.System(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), s.MinDeposit)

	// Nothing is visible before commit
	_, err = l.Begin().System(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, tx.Commit(ctx))
	s, err = l.Begin().System(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), s.MinDeposit)
}

func TestTxConflict(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	seed := l.Begin()
	require.NoError(t, seed.PutSystem(&system.State{TotalCollateral: 1}))
	require.NoError(t, seed.Commit(ctx))

	a := l.Begin()
	b := l.Begin()
	sa, err := a.System(ctx)
	require.NoError(t, err)
	sb, err := b.System(ctx)
	require.NoError(t, err)

	sa.TotalCollateral++
	sb.TotalCollateral += 10
	require.NoError(t, a.PutSystem(sa))
	require.NoError(t, b.PutSystem(sb))

	require.NoError(t, a.Commit(ctx))
	assert.True(t, errors.Is(b.Commit(ctx), ErrConflict))

	s, err := l.Begin().System(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.TotalCollateral)
}

func TestTxRollback(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	tx := l.Begin()
	require.NoError(t, tx.PutBalance("mata", address.FromSeed("x"), 5))
	tx.Rollback()

	bal, err := l.Begin().Balance(ctx, "mata", address.FromSeed("x"))
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestLoanRecords(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	addr := address.FromSeed("loan-1")

	tx := l.Begin()
	rec, err := tx.Loan(ctx, addr)
	require.NoError(t, err)
	assert.IsType(t, loan.Uninitialized{}, rec)

	active := &loan.Active{Owner: address.FromSeed("owner"), Type: loan.LockedStakeBacked, Amount: 66_666_666, CreatedAt: 1_700_000_000}
	require.NoError(t, tx.PutLoan(addr, active))
	require.NoError(t, tx.Commit(ctx))

	rec, err = l.Begin().Loan(ctx, addr)
	require.NoError(t, err)
	got, err := loan.RequireActive(rec)
	require.NoError(t, err)
	assert.Equal(t, *active, *got)

	addrs, err := l.LoanAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []address.Address{addr}, addrs)
}

func TestPriceHistoryRecord(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	h := pricehistory.New(1_700_006_400, pricehistory.DefaultParams())
	h.Prices[3] = pricehistory.Snapshot{Date: 1_700_006_400, SolPrice: 20_000_000, SolDecimals: 6, LucraPrice: 1, LucraDecimals: 6}

	tx := l.Begin()
	require.NoError(t, tx.PutPriceHistory(h))
	require.NoError(t, tx.Commit(ctx))

	got, err := l.Begin().PriceHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, *h, *got)
}
