package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/calc"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/store"
)

const feeDenominator uint64 = 10_000

// Pool is a constant-product WrappedNative/Synthetic pool on one venue.
type Pool struct {
	ReserveNative    uint64 `json:"reserveNative"`
	ReserveSynthetic uint64 `json:"reserveSynthetic"`
	FeeBps           uint64 `json:"feeBps"`
}

// PoolKey addresses a venue's pool record.
func PoolKey(v oracle.Venue) string {
	return "lcr:host:pool:" + v.String()
}

// Pool loads the venue's pool.
func (h *Host) Pool(ctx context.Context, v oracle.Venue) (Pool, error) {
	var p Pool
	err := h.tx.Get(ctx, PoolKey(v), store.DiscPool, &p)
	if errors.Is(err, store.ErrNotFound) {
		return Pool{}, protoerr.New(protoerr.InvalidAccountInput, component, "pool_not_seeded")
	}
	if err != nil {
		return Pool{}, fmt.Errorf("load %s pool: %w", v, err)
	}
	return p, nil
}

// PutPool overwrites the venue's pool record.
func (h *Host) PutPool(v oracle.Venue, p Pool) error {
	if _, ok := oracle.VenueMarket(v); !ok {
		return protoerr.New(protoerr.NotImplemented, component, "venue_not_supported")
	}
	return h.tx.Put(PoolKey(v), store.DiscPool, p)
}

// Quote returns the synthetic output for amountIn wrapped native, after the
// pool fee: out = reserveOut × in' / (reserveIn + in').
func (p Pool) Quote(amountIn uint64) (uint64, error) {
	fee := calc.FromUint64(amountIn).Mul(calc.FromUint64(p.FeeBps)).Div(calc.FromUint64(feeDenominator))
	in := calc.FromUint64(amountIn).Sub(fee.Floor())
	denom := calc.FromUint64(p.ReserveNative).Add(in)
	if denom.IsZero() {
		return 0, protoerr.Math(component, "empty_pool")
	}
	out, err := calc.FloorUint64(calc.FromUint64(p.ReserveSynthetic).Mul(in).Div(denom))
	if err != nil {
		return 0, protoerr.Math(component, "swap_output")
	}
	return out, nil
}

// Swap trades amountIn of owner's wrapped native for synthetic on venue and
// returns the amount received.
func (h *Host) Swap(ctx context.Context, v oracle.Venue, owner address.Address, amountIn uint64) (uint64, error) {
	if _, ok := oracle.VenueMarket(v); !ok {
		return 0, protoerr.New(protoerr.NotImplemented, component, "venue_not_supported")
	}
	p, err := h.Pool(ctx, v)
	if err != nil {
		return 0, err
	}
	out, err := p.Quote(amountIn)
	if err != nil {
		return 0, err
	}
	if err := h.Burn(ctx, WrappedNative, owner, amountIn); err != nil {
		return 0, err
	}

	var ok bool
	if p.ReserveNative, ok = calc.AddUint64(p.ReserveNative, amountIn); !ok {
		return 0, protoerr.Math(component, "reserve_overflow")
	}
	p.ReserveSynthetic -= out
	if err := h.PutPool(v, p); err != nil {
		return 0, err
	}
	return out, h.Mint(ctx, Synthetic, owner, out)
}
