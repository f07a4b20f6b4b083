package prices

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lucra/lucra-backend/internal/oracle"
)

var ErrFeedNotFound = errors.New("prices: feed not published")

// Board holds the most recently published raw feed per market and serves
// them to the engine as an oracle.FeedReader.
type Board struct {
	mu    sync.RWMutex
	feeds map[oracle.Market]oracle.RawFeed
}

func NewBoard() *Board {
	return &Board{feeds: make(map[oracle.Market]oracle.RawFeed)}
}

func (b *Board) Set(market oracle.Market, feed oracle.RawFeed) {
	b.mu.Lock()
	b.feeds[market] = feed
	b.mu.Unlock()
}

func (b *Board) ReadRawFeed(_ context.Context, market oracle.Market) (oracle.RawFeed, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	feed, ok := b.feeds[market]
	if !ok {
		return oracle.RawFeed{}, fmt.Errorf("%w: %s", ErrFeedNotFound, market)
	}
	return feed, nil
}

// Snapshot copies every published feed.
func (b *Board) Snapshot() map[oracle.Market]oracle.RawFeed {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[oracle.Market]oracle.RawFeed, len(b.feeds))
	for k, v := range b.feeds {
		out[k] = v
	}
	return out
}
