package mock

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/prices"
)

func TestFetchQuoteStaysInBand(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), map[string]float64{"SOLUSDC": 20}, 0.05)

	lo := decimal.NewFromInt(10)
	hi := decimal.NewFromInt(30)
	for i := 0; i < 200; i++ {
		q, err := g.FetchQuote(context.Background(), "solusdc")
		require.NoError(t, err)
		assert.Equal(t, "SOLUSDC", q.Symbol)
		assert.True(t, q.Price.GreaterThanOrEqual(lo) && q.Price.LessThanOrEqual(hi), "price %s", q.Price)
		assert.True(t, q.Volume.IsPositive())
	}
}

func TestFetchQuoteUnknownSymbol(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), nil, 0)
	_, err := g.FetchQuote(context.Background(), "DOGEUSD")
	assert.Error(t, err)
}

func TestSetBasePrice(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), nil, 0)
	g.SetBasePrice("solmata", 0.9)
	assert.Equal(t, 0.9, g.GetBasePrice("SOLMATA"))
}

func TestSubscribeLive(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), nil, 0)
	g.interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := make(chan prices.Quote, 1)
	go func() { _ = g.SubscribeLive(ctx, "SOLUSDT", out) }()

	select {
	case q := <-out:
		assert.Equal(t, "SOLUSDT", q.Symbol)
	case <-ctx.Done():
		t.Fatal("no quote received")
	}
}
