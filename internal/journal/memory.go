package journal

import (
	"context"
	"sync"

	"github.com/lucra/lucra-backend/internal/events"
)

const defaultCapacity = 10_000

// Memory is a bounded journal; the oldest events drop once it is full.
type Memory struct {
	mu     sync.RWMutex
	events []events.Event
	cap    int
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Memory{cap: capacity}
}

func (m *Memory) Append(_ context.Context, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == m.cap {
		copy(m.events, m.events[1:])
		m.events = m.events[:m.cap-1]
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Recent(_ context.Context, f Filter) ([]events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := f.limit()
	out := make([]events.Event, 0, min(limit, len(m.events)))
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.match(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}
