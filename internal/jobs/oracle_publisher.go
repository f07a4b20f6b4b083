package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lucra/lucra-backend/internal/clock"
	"github.com/lucra/lucra-backend/internal/metrics"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/prices"
	"github.com/lucra/lucra-backend/internal/prices/binance"
	"github.com/lucra/lucra-backend/internal/prices/mock"
	"github.com/lucra/lucra-backend/internal/store"
)

// OraclePublisher keeps the feed board fresh from an exchange provider,
// falling back to the mock generator while the provider is down.
type OraclePublisher struct {
	provider     prices.Provider
	mockProvider *mock.Generator
	registry     *prices.Registry
	board        *prices.Board
	cache        *store.Cache
	clock        clock.Source
	metrics      *metrics.Metrics
	logger       *zap.SugaredLogger
	config       OraclePublisherConfig

	group singleflight.Group

	mu        sync.RWMutex
	usingMock bool
}

type OraclePublisherConfig struct {
	ProviderType    string        // "binance" or "mock"
	RefreshInterval time.Duration // How often every market is re-quoted
	RetryInterval   time.Duration // How often a failed provider is probed
	QuoteTTL        time.Duration // Cache TTL for latest quotes
	MockVolatility  float64
}

func DefaultOraclePublisherConfig() OraclePublisherConfig {
	return OraclePublisherConfig{
		ProviderType:    "mock",
		RefreshInterval: 2 * time.Second,
		RetryInterval:   5 * time.Second,
		QuoteTTL:        30 * time.Second,
		MockVolatility:  0.002,
	}
}

func NewOraclePublisher(board *prices.Board, cache *store.Cache, clk clock.Source, m *metrics.Metrics, logger *zap.SugaredLogger, config OraclePublisherConfig) *OraclePublisher {
	mockProvider := mock.NewGenerator(logger, nil, config.MockVolatility)

	var provider prices.Provider
	switch config.ProviderType {
	case "binance":
		provider = binance.NewProvider(logger)
	default:
		provider = mockProvider
	}
	return newOraclePublisher(provider, mockProvider, board, cache, clk, m, logger, config)
}

func newOraclePublisher(provider prices.Provider, mockProvider *mock.Generator, board *prices.Board, cache *store.Cache, clk clock.Source, m *metrics.Metrics, logger *zap.SugaredLogger, config OraclePublisherConfig) *OraclePublisher {
	return &OraclePublisher{
		provider:     provider,
		mockProvider: mockProvider,
		registry:     prices.NewRegistry(),
		board:        board,
		cache:        cache,
		clock:        clk,
		metrics:      m,
		logger:       logger,
		config:       config,
	}
}

// Start refreshes until ctx ends.
func (p *OraclePublisher) Start(ctx context.Context) error {
	p.logger.Infow("Starting oracle publisher",
		"provider", p.provider.Name(),
		"mappings", p.registry.GetAllMappings(),
		"interval", p.config.RefreshInterval,
	)

	if err := p.Refresh(ctx); err != nil {
		p.logger.Warnw("Initial oracle refresh incomplete", "error", err)
	}

	refresh := time.NewTicker(p.config.RefreshInterval)
	defer refresh.Stop()
	retry := time.NewTicker(p.config.RetryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("Oracle publisher stopping due to context cancellation")
			return ctx.Err()
		case <-refresh.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warnw("Oracle refresh incomplete", "error", err)
			}
		case <-retry.C:
			p.checkProviderHealth(ctx)
		}
	}
}

// Refresh re-quotes every market once and stamps the feeds at the current
// slot. Markets that fail keep their previous feed and go stale.
func (p *OraclePublisher) Refresh(ctx context.Context) error {
	slot := p.clock.Now().Slot
	var failed []oracle.Market

	for _, market := range p.registry.Markets() {
		symbol, err := p.registry.Symbol(market)
		if err != nil {
			failed = append(failed, market)
			continue
		}
		quote, err := p.fetch(ctx, symbol)
		if err != nil {
			p.logger.Warnw("Failed to quote market", "market", market, "symbol", symbol, "error", err)
			failed = append(failed, market)
			continue
		}
		feed, err := prices.ToRawFeed(quote, slot)
		if err != nil {
			p.logger.Warnw("Rejected quote", "market", market, "symbol", symbol, "error", err)
			failed = append(failed, market)
			continue
		}
		p.board.Set(market, feed)

		if err := p.cache.SetOracleQuote(ctx, symbol, quote, p.config.QuoteTTL); err != nil {
			p.logger.Warnw("Failed to cache quote", "symbol", symbol, "error", err)
		}
	}

	if err := p.cache.Publish(ctx, store.ChannelOracle, p.board.Snapshot()); err != nil {
		p.logger.Debugw("Failed to publish feed board", "channel", store.ChannelOracle, "error", err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d markets not refreshed: %v", len(failed), len(p.registry.Markets()), failed)
	}
	return nil
}

// fetch quotes symbol, sharing one in-flight request between callers.
func (p *OraclePublisher) fetch(ctx context.Context, symbol string) (prices.Quote, error) {
	v, err, _ := p.group.Do(symbol, func() (interface{}, error) {
		current := p.getCurrentProvider()
		quote, err := current.FetchQuote(ctx, symbol)
		p.metrics.RecordFeedRefresh(ctx, current.Name(), err == nil)
		if err == nil {
			return quote, nil
		}
		if current.Name() == "mock" {
			return nil, err
		}

		p.switchToMock(ctx, symbol, err.Error())
		quote, err = p.mockProvider.FetchQuote(ctx, symbol)
		p.metrics.RecordFeedRefresh(ctx, p.mockProvider.Name(), err == nil)
		if err != nil {
			return nil, err
		}
		return quote, nil
	})
	if err != nil {
		return prices.Quote{}, err
	}
	return v.(prices.Quote), nil
}

// UsingMock reports whether quotes currently come from the fallback.
func (p *OraclePublisher) UsingMock() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.usingMock || p.provider.Name() == "mock"
}

// getCurrentProvider returns the currently active provider
func (p *OraclePublisher) getCurrentProvider() prices.Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.usingMock {
		return p.mockProvider
	}
	return p.provider
}

// switchToMock seeds every mock walk from the last real quotes so the fallback
// continues where the provider left off.
func (p *OraclePublisher) switchToMock(ctx context.Context, symbol, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.usingMock {
		return
	}
	p.usingMock = true
	p.logger.Warnw("Switching to mock provider",
		"symbol", symbol,
		"reason", reason,
		"provider", p.provider.Name(),
	)

	for _, market := range p.registry.Markets() {
		sym, err := p.registry.Symbol(market)
		if err != nil {
			continue
		}
		var last prices.Quote
		if err := p.cache.OracleQuote(ctx, sym, &last); err == nil {
			p.mockProvider.SetBasePrice(sym, last.Price.InexactFloat64())
		}
	}
}

// checkProviderHealth probes the primary provider while on the fallback and
// switches back once it answers.
func (p *OraclePublisher) checkProviderHealth(ctx context.Context) {
	p.mu.RLock()
	usingMock := p.usingMock
	p.mu.RUnlock()
	if !usingMock {
		return
	}

	markets := p.registry.Markets()
	if len(markets) == 0 {
		return
	}
	symbol, err := p.registry.Symbol(markets[0])
	if err != nil {
		return
	}
	if _, err := p.provider.FetchQuote(ctx, symbol); err != nil {
		health := p.provider.Health()
		p.logger.Debugw("Primary provider still unavailable",
			"provider", p.provider.Name(),
			"lastError", health.LastError,
			"reconnects", health.Reconnects,
		)
		return
	}

	p.logger.Infow("Primary provider recovered, switching back", "provider", p.provider.Name())
	p.mu.Lock()
	p.usingMock = false
	p.mu.Unlock()
}
