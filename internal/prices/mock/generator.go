package mock

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/prices"
)

// DefaultBasePrices seeds the random walk for the registry's default symbols.
var DefaultBasePrices = map[string]float64{
	"SOLUSDC":         20.00,
	"SOLUSDT":         20.00,
	"LUCRASOL":        0.05,
	"SOLMATA":         20.00,
	"SOLMATA.ORCA":    20.00,
	"SOLMATA.RAYDIUM": 20.00,
}

// Generator provides mock quotes for development and fallback scenarios
type Generator struct {
	logger     *zap.SugaredLogger
	mu         sync.RWMutex
	basePrices map[string]float64
	last       map[string]float64
	volatility float64
	interval   time.Duration
	health     prices.ProviderHealth
	rng        *rand.Rand
}

// NewGenerator creates a new mock generator. A nil basePrices map uses
// DefaultBasePrices.
func NewGenerator(logger *zap.SugaredLogger, basePrices map[string]float64, volatility float64) *Generator {
	if basePrices == nil {
		basePrices = DefaultBasePrices
	}
	if volatility <= 0 {
		volatility = 0.002 // 0.2% volatility
	}

	bases := make(map[string]float64, len(basePrices))
	for k, v := range basePrices {
		bases[strings.ToUpper(k)] = v
	}

	return &Generator{
		logger:     logger,
		basePrices: bases,
		last:       make(map[string]float64),
		volatility: volatility,
		interval:   1500 * time.Millisecond,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
}

// Name returns the provider identifier
func (g *Generator) Name() string {
	return "mock"
}

// Health returns current provider health status
func (g *Generator) Health() prices.ProviderHealth {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.health
}

// FetchQuote advances the symbol's random walk by one step
func (g *Generator) FetchQuote(_ context.Context, symbol string) (prices.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	symbol = strings.ToUpper(symbol)
	base, ok := g.basePrices[symbol]
	if !ok {
		return prices.Quote{}, fmt.Errorf("mock: unknown symbol %s", symbol)
	}

	current, ok := g.last[symbol]
	if !ok {
		current = base
	}
	current *= 1 + g.generatePriceChange()

	// Keep the walk within ±50% of base
	if current < base*0.5 {
		current = base * 0.5
	} else if current > base*1.5 {
		current = base * 1.5
	}
	g.last[symbol] = current
	g.health.LastSuccess = time.Now()

	volume := 10000.0 * (1 + g.rng.Float64())

	return prices.Quote{
		Symbol: symbol,
		Price:  decimal.NewFromFloat(current).Round(int32(prices.FeedExponent)),
		Volume: decimal.NewFromFloat(volume).Floor(),
		TsMs:   time.Now().UnixMilli(),
	}, nil
}

// SubscribeLive emits a quote for symbol on every tick until ctx ends
func (g *Generator) SubscribeLive(ctx context.Context, symbol string, out chan<- prices.Quote) error {
	g.logger.Infow("Starting mock live price feed", "symbol", symbol)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			quote, err := g.FetchQuote(ctx, symbol)
			if err != nil {
				return err
			}

			// Send quote (non-blocking)
			select {
			case out <- quote:
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}
}

// generatePriceChange creates a realistic price movement
func (g *Generator) generatePriceChange() float64 {
	baseChange := g.rng.NormFloat64() * g.volatility

	// Add some trending behavior occasionally
	if g.rng.Float64() < 0.1 {
		trend := (g.rng.Float64() - 0.5) * g.volatility * 2
		baseChange += trend
	}

	// Clamp extreme movements
	maxChange := g.volatility * 5
	if baseChange > maxChange {
		baseChange = maxChange
	} else if baseChange < -maxChange {
		baseChange = -maxChange
	}

	return baseChange
}

// SetBasePrice re-centers the walk for symbol
func (g *Generator) SetBasePrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if price > 0 {
		symbol = strings.ToUpper(symbol)
		g.basePrices[symbol] = price
		g.last[symbol] = price
	}
}

// GetBasePrice returns the base price for symbol
func (g *Generator) GetBasePrice(symbol string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.basePrices[strings.ToUpper(symbol)]
}
