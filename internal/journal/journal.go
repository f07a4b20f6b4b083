// Package journal keeps the append-only record of committed instruction
// events.
package journal

import (
	"context"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/events"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filter narrows a Recent query. Zero values match everything.
type Filter struct {
	Loan  address.Address
	Kind  events.Kind
	Limit int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

func (f Filter) match(ev events.Event) bool {
	if !f.Loan.IsZero() && ev.Loan != f.Loan {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	return true
}

// Journal stores events and returns them newest first.
type Journal interface {
	Append(ctx context.Context, ev events.Event) error
	Recent(ctx context.Context, f Filter) ([]events.Event, error)
	Ping(ctx context.Context) error
	Close()
}
