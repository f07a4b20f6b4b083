// Package clock supplies the ledger clock handed to every invocation.
package clock

import (
	"sync"
	"time"
)

// Clock is the ledger's view of time: a checkpoint slot and unix seconds.
type Clock struct {
	Slot          uint64 `json:"slot"`
	UnixTimestamp int64  `json:"unixTimestamp"`
}

// Source produces the clock for the next invocation.
type Source interface {
	Now() Clock
}

// DefaultSlotDuration approximates the checkpoint cadence of the reference chain.
const DefaultSlotDuration = 400 * time.Millisecond

// Wall derives slots from elapsed wall time since a genesis instant.
type Wall struct {
	Genesis      time.Time
	SlotDuration time.Duration
	now          func() time.Time
}

func NewWall(genesis time.Time, slotDuration time.Duration) *Wall {
	if slotDuration <= 0 {
		slotDuration = DefaultSlotDuration
	}
	return &Wall{Genesis: genesis, SlotDuration: slotDuration, now: time.Now}
}

func (w *Wall) Now() Clock {
	t := w.now()
	elapsed := t.Sub(w.Genesis)
	if elapsed < 0 {
		elapsed = 0
	}
	return Clock{
		Slot:          uint64(elapsed / w.SlotDuration),
		UnixTimestamp: t.Unix(),
	}
}

// Manual is a settable clock for tests and replays.
type Manual struct {
	mu sync.Mutex
	c  Clock
}

func NewManual(c Clock) *Manual {
	return &Manual{c: c}
}

func (m *Manual) Now() Clock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c
}

func (m *Manual) Set(c Clock) {
	m.mu.Lock()
	m.c = c
	m.mu.Unlock()
}

// Advance moves the clock forward by slots and seconds.
func (m *Manual) Advance(slots uint64, seconds int64) Clock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Slot += slots
	m.c.UnixTimestamp += seconds
	return m.c
}
