package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/metrics"
	"github.com/lucra/lucra-backend/pkg/kv"
)

// Cache is a JSON cache plus pub/sub. With a Redis client it publishes
// through Redis; without one it falls back to an in-process hub.
type Cache struct {
	kvStore kv.Store
	// nil when Redis is unavailable
	client *redis.Client
	// In-process pubsub used when client is nil
	hub *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewCache wraps kvStore. Pass a nil client to run pub/sub in-process.
func NewCache(kvStore kv.Store, client *redis.Client, logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	c := &Cache{
		kvStore: kvStore,
		client:  client,
		logger:  logger,
		metrics: m,
	}
	if client == nil {
		c.hub = NewPubSubHub()
		if logger != nil {
			logger.Infow("Redis unavailable; using in-memory pubsub")
		}
	}
	return c
}

// Cache keys and pub/sub channels
const (
	KeyOracleQuote = "lcr:oracle:quote"

	ChannelEventsPrefix = "lcr:events:"
	ChannelLoanPrefix   = "lcr:loan:"
	ChannelPeg          = "lcr:system:peg"
	ChannelOracle       = "lcr:oracle:feeds"
)

// EventChannel is the channel carrying one instruction kind's events.
func EventChannel(kind string) string {
	return ChannelEventsPrefix + kind
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.kvStore.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			if c.metrics != nil {
				c.metrics.RecordCacheMiss(ctx, key)
			}
			return ErrCacheMiss
		}
		if c.logger != nil {
			c.logger.Errorw("Cache get error", "key", key, "error", err)
		}
		return fmt.Errorf("cache get error: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.kvStore.Set(ctx, key, data, ttl); err != nil {
		if c.logger != nil {
			c.logger.Errorw("Cache set error", "key", key, "error", err)
		}
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.kvStore.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// OracleQuote reads the last cached quote for symbol.
func (c *Cache) OracleQuote(ctx context.Context, symbol string, dest interface{}) error {
	return c.Get(ctx, fmt.Sprintf("%s:%s", KeyOracleQuote, symbol), dest)
}

// SetOracleQuote caches the latest quote for symbol.
func (c *Cache) SetOracleQuote(ctx context.Context, symbol string, value interface{}, ttl time.Duration) error {
	return c.Set(ctx, fmt.Sprintf("%s:%s", KeyOracleQuote, symbol), value, ttl)
}

// Publish JSON-encodes message onto channel.
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			if c.logger != nil {
				c.logger.Errorw("Publish error", "channel", channel, "error", err)
			}
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	c.hub.Publish(channel, string(data))
	if c.logger != nil {
		c.logger.Debugw("Published to in-memory pubsub", "channel", channel)
	}
	return nil
}

// Subscribe opens a Redis subscription to channel patterns ("lcr:events:*").
// It returns nil in in-memory mode; use SubscribeInMemory instead.
func (c *Cache) Subscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	if c.client == nil {
		return nil
	}
	return c.client.PSubscribe(ctx, patterns...)
}

// SubscribeInMemory subscribes to channel patterns on the in-process hub.
func (c *Cache) SubscribeInMemory(ctx context.Context, patterns ...string) *LocalPubSub {
	if c.hub == nil {
		return nil
	}
	return c.hub.Subscribe(ctx, patterns...)
}

// IsInMemoryMode returns true if pub/sub runs in-process
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

// Ping checks the backing store
func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return c.kvStore.Ping(ctx)
}

// Error types
var (
	ErrCacheMiss = errors.New("cache miss")
)
