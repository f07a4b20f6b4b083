package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		assert.Equal(t, "SOLUSDC", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"SOLUSDC","lastPrice":"28.05000000","quoteVolume":"123456.78","closeTime":1700000000000}`))
	}))
	defer srv.Close()

	p := NewProviderWithURL(zap.NewNop().Sugar(), srv.URL)
	q, err := p.FetchQuote(context.Background(), "solusdc")
	require.NoError(t, err)

	assert.Equal(t, "SOLUSDC", q.Symbol)
	assert.True(t, decimal.RequireFromString("28.05").Equal(q.Price))
	assert.True(t, decimal.RequireFromString("123456.78").Equal(q.Volume))
	assert.Equal(t, int64(1700000000000), q.TsMs)
	assert.True(t, p.Health().Healthy)
}

func TestFetchQuoteErrorMarksUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewProviderWithURL(zap.NewNop().Sugar(), srv.URL)
	_, err := p.FetchQuote(context.Background(), "SOLUSDT")
	require.Error(t, err)

	h := p.Health()
	assert.False(t, h.Healthy)
	assert.Contains(t, h.LastError, "429")
}

func TestParseTickerRejectsGarbage(t *testing.T) {
	_, err := parseTicker(Ticker24h{Symbol: "SOLUSDC", LastPrice: "n/a"})
	assert.Error(t, err)
}
