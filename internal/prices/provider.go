package prices

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/oracle"
)

// FeedExponent is the decimal exponent published for every quote.
const FeedExponent uint8 = 6

// Quote represents a single observation of an exchange symbol
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	TsMs   int64           `json:"ts"` // milliseconds since epoch
}

// Provider defines the interface for price data sources
type Provider interface {
	// FetchQuote retrieves the latest price and traded volume
	// symbol: provider-specific symbol (e.g., "SOLUSDC")
	FetchQuote(ctx context.Context, symbol string) (Quote, error)

	// SubscribeLive subscribes to real-time price updates
	SubscribeLive(ctx context.Context, symbol string, out chan<- Quote) error

	// Name returns the provider identifier
	Name() string

	// Health returns current provider health status
	Health() ProviderHealth
}

// ProviderHealth represents the current status of a provider
type ProviderHealth struct {
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
	Reconnects  int       `json:"reconnects"`
}

// ToRawFeed converts a quote into the raw feed layout, stamped valid at slot.
func ToRawFeed(q Quote, slot uint64) (oracle.RawFeed, error) {
	if !q.Price.IsPositive() {
		return oracle.RawFeed{}, fmt.Errorf("quote %s has non-positive price %s", q.Symbol, q.Price)
	}
	mantissa, err := calc.FloorUint64(q.Price.Shift(int32(FeedExponent)))
	if err != nil {
		return oracle.RawFeed{}, fmt.Errorf("quote %s price: %w", q.Symbol, err)
	}
	var volume uint64
	if q.Volume.IsPositive() {
		volume, err = calc.FloorUint64(q.Volume)
		if err != nil {
			return oracle.RawFeed{}, fmt.Errorf("quote %s volume: %w", q.Symbol, err)
		}
	}
	return oracle.RawFeed{
		Mantissa:      mantissa,
		Exponent:      FeedExponent,
		LastValidSlot: slot,
		Status:        oracle.StatusValid,
		Volume:        volume,
	}, nil
}
