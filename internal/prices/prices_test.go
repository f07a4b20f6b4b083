package prices

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucra/lucra-backend/internal/oracle"
)

func TestToRawFeed(t *testing.T) {
	q := Quote{Symbol: "SOLUSDC", Price: decimal.RequireFromString("28.0512349"), Volume: decimal.RequireFromString("1000.9")}
	feed, err := ToRawFeed(q, 42)
	require.NoError(t, err)

	assert.Equal(t, uint64(28_051_234), feed.Mantissa)
	assert.Equal(t, FeedExponent, feed.Exponent)
	assert.Equal(t, uint64(42), feed.LastValidSlot)
	assert.Equal(t, oracle.StatusValid, feed.Status)
	assert.Equal(t, uint64(1000), feed.Volume)

	_, err = ToRawFeed(Quote{Symbol: "X", Price: decimal.Zero}, 1)
	assert.Error(t, err)
}

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()
	for _, m := range oracle.Markets() {
		_, err := r.Symbol(m)
		assert.NoError(t, err, "market %s", m)
	}

	_, err := r.Symbol("BTC/USD")
	assert.Error(t, err)

	r.AddMapping(oracle.SolUSDC, "solusdc.alt")
	sym, err := r.Symbol(oracle.SolUSDC)
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDC.ALT", sym)
}

func TestBoard(t *testing.T) {
	b := NewBoard()
	_, err := b.ReadRawFeed(context.Background(), oracle.SolUSDC)
	assert.True(t, errors.Is(err, ErrFeedNotFound))

	feed := oracle.RawFeed{Mantissa: 1, Exponent: 6, LastValidSlot: 9, Status: 1}
	b.Set(oracle.SolUSDC, feed)

	got, err := b.ReadRawFeed(context.Background(), oracle.SolUSDC)
	require.NoError(t, err)
	assert.Equal(t, feed, got)
	assert.Len(t, b.Snapshot(), 1)
}
