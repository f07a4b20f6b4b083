package host

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/store"
	memkv "github.com/lucra/lucra-backend/pkg/kv/memory"
)

var alice = address.FromSeed("alice")

func newHost(t *testing.T) (*Host, *store.Tx) {
	t.Helper()
	mem := memkv.New(0)
	t.Cleanup(func() { mem.Close() })
	tx := store.NewLedger(mem).Begin()
	return Bind(tx), tx
}

func TestMintBurnTransfer(t *testing.T) {
	ctx := context.Background()
	h, _ := newHost(t)
	bob := address.FromSeed("bob")

	require.NoError(t, h.Mint(ctx, Synthetic, alice, 100))
	require.NoError(t, h.Transfer(ctx, Synthetic, alice, bob, 40))

	a, err := h.Balance(ctx, Synthetic, alice)
	require.NoError(t, err)
	b, err := h.Balance(ctx, Synthetic, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), a)
	assert.Equal(t, uint64(40), b)

	err = h.Burn(ctx, Synthetic, bob, 41)
	assert.True(t, errors.Is(err, protoerr.InvalidAmount))
}

func TestWrap(t *testing.T) {
	ctx := context.Background()
	h, _ := newHost(t)

	require.NoError(t, h.Mint(ctx, Native, alice, 10))
	require.NoError(t, h.Wrap(ctx, alice, 7))

	native, _ := h.Balance(ctx, Native, alice)
	wrapped, _ := h.Balance(ctx, WrappedNative, alice)
	assert.Equal(t, uint64(3), native)
	assert.Equal(t, uint64(7), wrapped)
}

func TestLiquidStakingRate(t *testing.T) {
	ctx := context.Background()
	h, _ := newHost(t)

	// 1.25 native per derivative
	require.NoError(t, h.PutStakePool(StakePool{TotalNative: 125, TotalDerivative: 100}))
	require.NoError(t, h.Mint(ctx, Native, alice, 1_000))

	minted, err := h.LiquidStake(ctx, alice, 1_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), minted)

	conv, err := h.DerivativeForNative(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), conv)

	out, err := h.LiquidUnstake(ctx, alice, 400)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), out)

	pool, err := h.StakePool(ctx)
	require.NoError(t, err)
	assert.Equal(t, StakePool{TotalNative: 625, TotalDerivative: 500}, pool)
}

func TestEmptyStakePoolTradesAtPar(t *testing.T) {
	ctx := context.Background()
	h, _ := newHost(t)
	require.NoError(t, h.Mint(ctx, Native, alice, 50))

	minted, err := h.LiquidStake(ctx, alice, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), minted)
}

func TestSwap(t *testing.T) {
	ctx := context.Background()
	h, _ := newHost(t)

	require.NoError(t, h.PutPool(oracle.VenueOrca, Pool{ReserveNative: 1_000, ReserveSynthetic: 20_000}))
	require.NoError(t, h.Mint(ctx, WrappedNative, alice, 1_000))

	out, err := h.Swap(ctx, oracle.VenueOrca, alice, 1_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), out)

	pool, err := h.Pool(ctx, oracle.VenueOrca)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), pool.ReserveNative)
	assert.Equal(t, uint64(10_000), pool.ReserveSynthetic)

	_, err = h.Swap(ctx, oracle.VenueRaydium, alice, 1)
	assert.True(t, errors.Is(err, protoerr.InvalidAccountInput))

	_, err = h.Swap(ctx, oracle.VenueNone, alice, 1)
	assert.True(t, errors.Is(err, protoerr.NotImplemented))
}

func TestPoolFee(t *testing.T) {
	p := Pool{ReserveNative: 1_000, ReserveSynthetic: 1_000, FeeBps: 100}
	out, err := p.Quote(100)
	require.NoError(t, err)
	// in' = 99, out = 1000×99/1099
	assert.Equal(t, uint64(90), out)
}

func TestStakeLockRelease(t *testing.T) {
	ctx := context.Background()
	h, _ := newHost(t)

	require.NoError(t, h.Mint(ctx, Governance, alice, 100))
	require.NoError(t, h.Stake(ctx, alice, 100))
	require.NoError(t, h.Lock(ctx, alice, 60))

	err := h.Lock(ctx, alice, 41)
	assert.True(t, errors.Is(err, protoerr.InvalidAmount))

	require.NoError(t, h.Release(ctx, alice, 60))
	s, err := h.StakeAccount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, StakeAccount{Total: 100}, s)
}

func TestHostEffectsCommitWithTx(t *testing.T) {
	ctx := context.Background()
	mem := memkv.New(0)
	defer mem.Close()
	ledger := store.NewLedger(mem)

	tx := ledger.Begin()
	require.NoError(t, Bind(tx).Mint(ctx, Reward, alice, 1))
	tx.Rollback()

	bal, err := Bind(ledger.Begin()).Balance(ctx, Reward, alice)
	require.NoError(t, err)
	assert.Zero(t, bal)

	tx = ledger.Begin()
	require.NoError(t, Bind(tx).Mint(ctx, Reward, alice, 1))
	require.NoError(t, tx.Commit(ctx))

	bal, err = Bind(ledger.Begin()).Balance(ctx, Reward, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bal)
}
