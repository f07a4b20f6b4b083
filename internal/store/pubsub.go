package store

import (
	"context"
	"strings"
	"sync"
)

// LocalMessage mirrors redis.Message for the in-process hub
type LocalMessage struct {
	Pattern string
	Channel string
	Payload string
}

// LocalPubSub is one in-process subscription
type LocalPubSub struct {
	patterns []string
	msgChan  chan *LocalMessage
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newLocalPubSub(patterns []string) *LocalPubSub {
	return &LocalPubSub{
		patterns: patterns,
		msgChan:  make(chan *LocalMessage, 100),
		closeCh:  make(chan struct{}),
	}
}

// Channel returns the message channel
func (m *LocalPubSub) Channel() <-chan *LocalMessage {
	return m.msgChan
}

// Close ends the subscription
func (m *LocalPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.closeCh)
		close(m.msgChan)
	}
	return nil
}

// MatchPattern supports exact channels and a single trailing "*".
func MatchPattern(pattern, channel string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}

func (m *LocalPubSub) match(channel string) (string, bool) {
	for _, p := range m.patterns {
		if MatchPattern(p, channel) {
			return p, true
		}
	}
	return "", false
}

// deliver sends a message without blocking; a full buffer drops it
func (m *LocalPubSub) deliver(channel, payload string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}
	pattern, ok := m.match(channel)
	if !ok {
		return
	}

	select {
	case m.msgChan <- &LocalMessage{Pattern: pattern, Channel: channel, Payload: payload}:
	default:
	}
}

// PubSubHub fans published messages out to local subscriptions
type PubSubHub struct {
	subscribers map[*LocalPubSub]struct{}
	mu          sync.RWMutex
}

// NewPubSubHub creates a new pubsub hub
func NewPubSubHub() *PubSubHub {
	return &PubSubHub{
		subscribers: make(map[*LocalPubSub]struct{}),
	}
}

// Subscribe registers a subscription for patterns until ctx ends or it is closed
func (h *PubSubHub) Subscribe(ctx context.Context, patterns ...string) *LocalPubSub {
	sub := newLocalPubSub(patterns)

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}

		h.mu.Lock()
		delete(h.subscribers, sub)
		h.mu.Unlock()
	}()

	return sub
}

// Publish sends payload to every subscription whose pattern matches channel
func (h *PubSubHub) Publish(channel, payload string) {
	h.mu.RLock()
	subs := make([]*LocalPubSub, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(channel, payload)
	}
}
