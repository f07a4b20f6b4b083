// Package pricehistory keeps the bounded ring of daily price snapshots the
// penalty walk reads.
package pricehistory

import (
	"github.com/shopspring/decimal"

	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/protoerr"
)

const component = "price_history"

// Capacity is the number of daily slots in the ring.
const Capacity = 30

// Snapshot is one day's sampled prices as fixed-point integers. A zero price
// marks an invalid sample.
type Snapshot struct {
	Date          int64  `json:"date"`
	SolPrice      uint64 `json:"solPrice"`
	SolDecimals   uint8  `json:"solDecimals"`
	LucraPrice    uint64 `json:"lucraPrice"`
	LucraDecimals uint8  `json:"lucraDecimals"`
}

// Valid reports whether both legs carry a price.
func (s Snapshot) Valid() bool {
	return s.SolPrice != 0 && s.LucraPrice != 0
}

// Sol returns the snapshot's native-coin price as a decimal.
func (s Snapshot) Sol() decimal.Decimal {
	return calc.FromScaled(s.SolPrice, s.SolDecimals)
}

// Lucra returns the snapshot's governance-token price as a decimal.
func (s Snapshot) Lucra() decimal.Decimal {
	return calc.FromScaled(s.LucraPrice, s.LucraDecimals)
}

// Params controls sampling cadence and rollover.
type Params struct {
	Window     int64  `mapstructure:"window" json:"window"`
	Spacing    int64  `mapstructure:"spacing" json:"spacing"`
	MinSamples uint64 `mapstructure:"min_samples" json:"minSamples"`
}

// DefaultParams samples hourly into daily buckets, keeping a day only if it
// saw at least 12 samples.
func DefaultParams() Params {
	return Params{Window: 86_400, Spacing: 3_600, MinSamples: 12}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Window <= 0 {
		p.Window = d.Window
	}
	if p.Spacing <= 0 {
		p.Spacing = d.Spacing
	}
	if p.MinSamples == 0 {
		p.MinSamples = d.MinSamples
	}
	return p
}

// Truncate floors ts to the start of its window.
func (p Params) Truncate(ts int64) int64 {
	w := p.withDefaults().Window
	r := ts % w
	if r < 0 {
		r += w
	}
	return ts - r
}

// History is the global price-history record.
type History struct {
	Prices              [Capacity]Snapshot `json:"prices"`
	IntervalStart       int64              `json:"intervalStart"`
	UpdateCounter       uint64             `json:"updateCounter"`
	LastUpdateTimestamp int64              `json:"lastUpdateTimestamp"`
}

// New opens an empty history whose first window contains now.
func New(now int64, params Params) *History {
	return &History{IntervalStart: params.Truncate(now)}
}

// Entries returns the ring's snapshots in storage order.
func (h *History) Entries() []Snapshot {
	out := make([]Snapshot, Capacity)
	copy(out, h.Prices[:])
	return out
}

// CheckSpacing rejects a sample arriving within Spacing of the previous one.
func (h *History) CheckSpacing(now int64, params Params) error {
	params = params.withDefaults()
	next, ok := addInt64(h.LastUpdateTimestamp, params.Spacing)
	if !ok {
		return protoerr.Math(component, "spacing_overflow")
	}
	return protoerr.Check(next <= now, protoerr.InsufficientTimePassed, component, "spacing_not_elapsed")
}

// RecordSample folds one observation into the ring. Callers run CheckSpacing
// first.
func (h *History) RecordSample(now int64, sol, lucra decimal.Decimal, params Params) error {
	params = params.withDefaults()

	end, ok := addInt64(h.IntervalStart, params.Window)
	if !ok {
		return protoerr.Math(component, "window_end_overflow")
	}

	switch {
	case now < h.IntervalStart:
		return protoerr.New(protoerr.InvalidState, component, "sample_before_window")

	case now < end:
		if idx := h.find(h.IntervalStart); idx >= 0 {
			if err := h.Prices[idx].average(sol, lucra); err != nil {
				return err
			}
		} else {
			h.UpdateCounter = 0
			if err := h.overwriteOldest(h.IntervalStart, sol, lucra); err != nil {
				return err
			}
		}

	default:
		if h.UpdateCounter < params.MinSamples {
			if idx := h.find(h.IntervalStart); idx >= 0 {
				h.Prices[idx].SolPrice = 0
				h.Prices[idx].LucraPrice = 0
			}
		}
		h.UpdateCounter = 0
		h.IntervalStart = params.Truncate(now)
		if err := h.overwriteOldest(h.IntervalStart, sol, lucra); err != nil {
			return err
		}
	}

	counter, ok := calc.AddUint64(h.UpdateCounter, 1)
	if !ok {
		return protoerr.Math(component, "counter_overflow")
	}
	h.UpdateCounter = counter
	h.LastUpdateTimestamp = now
	return nil
}

func (h *History) find(date int64) int {
	for i := range h.Prices {
		if h.Prices[i].Date == date {
			return i
		}
	}
	return -1
}

// oldest is the slot with the smallest date; ties go to the lowest index.
func (h *History) oldest() int {
	idx := 0
	for i := 1; i < Capacity; i++ {
		if h.Prices[i].Date < h.Prices[idx].Date {
			idx = i
		}
	}
	return idx
}

func (h *History) overwriteOldest(date int64, sol, lucra decimal.Decimal) error {
	solFix, err := calc.ToScaled(sol, calc.PriceDecimals)
	if err != nil {
		return protoerr.Math(component, "sol_price_scale")
	}
	lucraFix, err := calc.ToScaled(lucra, calc.PriceDecimals)
	if err != nil {
		return protoerr.Math(component, "lucra_price_scale")
	}
	h.Prices[h.oldest()] = Snapshot{
		Date:          date,
		SolPrice:      solFix,
		SolDecimals:   calc.PriceDecimals,
		LucraPrice:    lucraFix,
		LucraDecimals: calc.PriceDecimals,
	}
	return nil
}

// average folds a new observation in as floor((new + old) / 2) on the
// fixed-point representation.
func (s *Snapshot) average(sol, lucra decimal.Decimal) error {
	two := decimal.NewFromInt(2)

	solAvg, err := calc.FloorUint64(sol.Shift(int32(s.SolDecimals)).Add(calc.FromUint64(s.SolPrice)).Div(two))
	if err != nil {
		return protoerr.Math(component, "sol_average")
	}
	lucraAvg, err := calc.FloorUint64(lucra.Shift(int32(s.LucraDecimals)).Add(calc.FromUint64(s.LucraPrice)).Div(two))
	if err != nil {
		return protoerr.Math(component, "lucra_average")
	}
	s.SolPrice = solAvg
	s.LucraPrice = lucraAvg
	return nil
}

func addInt64(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}
