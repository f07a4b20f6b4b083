package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/prices"
)

const (
	BinanceRestAPI = "https://api.binance.com"
	BinanceWS      = "wss://stream.binance.com:9443/ws"
)

// Provider implements the prices.Provider interface for Binance
type Provider struct {
	logger  *zap.SugaredLogger
	client  *http.Client
	baseURL string

	mu     sync.RWMutex
	health prices.ProviderHealth
}

// NewProvider creates a new Binance provider
func NewProvider(logger *zap.SugaredLogger) *Provider {
	return NewProviderWithURL(logger, BinanceRestAPI)
}

// NewProviderWithURL points the REST client at baseURL
func NewProviderWithURL(logger *zap.SugaredLogger, baseURL string) *Provider {
	return &Provider{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "binance"
}

// Health returns current provider health status
func (p *Provider) Health() prices.ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// updateHealth updates the provider health status
func (p *Provider) updateHealth(healthy bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.Healthy = healthy
	if healthy {
		p.health.LastSuccess = time.Now()
		p.health.LastError = ""
	} else if err != nil {
		p.health.LastError = err.Error()
	}
}

// Ticker24h is the subset of /api/v3/ticker/24hr the feed needs
type Ticker24h struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	QuoteVolume string `json:"quoteVolume"`
	CloseTime   int64  `json:"closeTime"`
}

// FetchQuote retrieves the latest price and 24h quote volume
func (p *Provider) FetchQuote(ctx context.Context, symbol string) (prices.Quote, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	requestURL := fmt.Sprintf("%s/api/v3/ticker/24hr?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, fmt.Errorf("failed to fetch from Binance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("binance API error: %d", resp.StatusCode)
		p.updateHealth(false, err)
		return prices.Quote{}, err
	}

	var ticker Ticker24h
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, fmt.Errorf("failed to decode response: %w", err)
	}

	quote, err := parseTicker(ticker)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, err
	}

	p.updateHealth(true, nil)
	p.logger.Debugw("Fetched quote from Binance", "symbol", quote.Symbol, "price", quote.Price, "volume", quote.Volume)

	return quote, nil
}

func parseTicker(t Ticker24h) (prices.Quote, error) {
	price, err := decimal.NewFromString(t.LastPrice)
	if err != nil {
		return prices.Quote{}, fmt.Errorf("invalid last price %q: %w", t.LastPrice, err)
	}
	volume := decimal.Zero
	if t.QuoteVolume != "" {
		volume, err = decimal.NewFromString(t.QuoteVolume)
		if err != nil {
			return prices.Quote{}, fmt.Errorf("invalid quote volume %q: %w", t.QuoteVolume, err)
		}
	}
	return prices.Quote{
		Symbol: t.Symbol,
		Price:  price,
		Volume: volume,
		TsMs:   t.CloseTime,
	}, nil
}

// SubscribeLive subscribes to real-time trade data via WebSocket
func (p *Provider) SubscribeLive(ctx context.Context, symbol string, out chan<- prices.Quote) error {
	wsURL := fmt.Sprintf("%s/%s@trade", BinanceWS, strings.ToLower(symbol))

	p.logger.Infow("Connecting to Binance WebSocket", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return fmt.Errorf("failed to connect to Binance WebSocket: %w", err)
	}
	defer conn.Close()

	p.updateHealth(true, nil)
	p.logger.Infow("Connected to Binance WebSocket", "symbol", symbol)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			p.updateHealth(false, err)
			p.mu.Lock()
			p.health.Reconnects++
			p.mu.Unlock()
			return fmt.Errorf("WebSocket read error: %w", err)
		}

		var trade Trade
		if err := json.Unmarshal(message, &trade); err != nil {
			p.logger.Warnw("Failed to parse trade message", "error", err, "message", string(message))
			continue
		}

		price, err := decimal.NewFromString(trade.Price)
		if err != nil {
			p.logger.Warnw("Failed to parse trade price", "error", err, "price", trade.Price)
			continue
		}
		qty, _ := decimal.NewFromString(trade.Quantity)

		quote := prices.Quote{
			Symbol: strings.ToUpper(symbol),
			Price:  price,
			Volume: qty.Mul(price),
			TsMs:   trade.EventTime,
		}

		// Send quote (non-blocking)
		select {
		case out <- quote:
		case <-ctx.Done():
			return ctx.Err()
		default:
			p.logger.Debugw("Quote channel full, skipping", "symbol", symbol)
		}

		p.updateHealth(true, nil)
	}
}

// Trade represents a trade message from Binance WebSocket
type Trade struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}
