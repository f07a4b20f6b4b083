// Package oracle turns raw feed records into decimal prices.
//
// Nothing here rounds: every helper returns an exact decimal and the caller
// that finally stores an integer applies a single floor.
package oracle

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/protoerr"
)

const component = "oracle"

// StatusValid is the only feed status accepted for pricing.
const StatusValid uint8 = 1

// DefaultMaxStaleSlots is the staleness tolerance of the reference deployment.
const DefaultMaxStaleSlots uint64 = 25

// RawFeed is an aggregated price source as published on-ledger.
type RawFeed struct {
	Mantissa      uint64 `json:"mantissa"`
	Exponent      uint8  `json:"exponent"`
	LastValidSlot uint64 `json:"lastValidSlot"`
	Status        uint8  `json:"status"`
	Volume        uint64 `json:"volume"`
}

// FeedReader is the read_raw_oracle_feed boundary.
type FeedReader interface {
	ReadRawFeed(ctx context.Context, market Market) (RawFeed, error)
}

// Deriver prices feeds against a slot-based staleness tolerance.
type Deriver struct {
	MaxStaleSlots uint64
}

// NewDeriver returns a Deriver; a zero tolerance falls back to the default.
func NewDeriver(maxStaleSlots uint64) Deriver {
	if maxStaleSlots == 0 {
		maxStaleSlots = DefaultMaxStaleSlots
	}
	return Deriver{MaxStaleSlots: maxStaleSlots}
}

// DerivePrice converts feed into mantissa / 10^exponent.
func (d Deriver) DerivePrice(feed RawFeed, currentSlot uint64) (decimal.Decimal, error) {
	if feed.Status != StatusValid {
		return decimal.Zero, protoerr.New(protoerr.OracleStatusInvalid, component, "status_not_valid")
	}
	deadline, ok := calc.AddUint64(feed.LastValidSlot, d.MaxStaleSlots)
	if !ok {
		return decimal.Zero, protoerr.Math(component, "stale_deadline_overflow")
	}
	if deadline < currentSlot {
		return decimal.Zero, protoerr.New(protoerr.OracleStale, component, "stale_slot")
	}
	return calc.FromScaled(feed.Mantissa, feed.Exponent), nil
}

// DerivePrice prices a feed with the default tolerance.
func DerivePrice(feed RawFeed, currentSlot uint64) (decimal.Decimal, error) {
	return NewDeriver(DefaultMaxStaleSlots).DerivePrice(feed, currentSlot)
}

// Lower picks the more conservative of two quotes for the same base asset.
func Lower(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return b
	}
	return a
}

// Reciprocal returns 1/p, failing on a zero price.
func Reciprocal(p decimal.Decimal) (decimal.Decimal, error) {
	if p.IsZero() {
		return decimal.Zero, protoerr.Math(component, "reciprocal_of_zero")
	}
	return decimal.NewFromInt(1).Div(p), nil
}

// VerifyVenueVolume fails unless the chosen venue traded at least as much
// as the other one.
func VerifyVenueVolume(chosen, other RawFeed) error {
	return protoerr.Check(chosen.Volume >= other.Volume, protoerr.InvalidAmount, component, "venue_volume_lower")
}
