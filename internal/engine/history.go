package engine

import (
	"context"
	"errors"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/events"
	"github.com/lucra/lucra-backend/internal/host"
	"github.com/lucra/lucra-backend/internal/pricehistory"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/store"
)

// CreatePriceHistory allocates the empty price history. Only the creator
// authority may call it, once.
func (e *Engine) CreatePriceHistory(ctx context.Context, caller address.Address) error {
	return e.run(ctx, "create_price_history", func(ctx context.Context, inv *invocation) error {
		state, err := inv.system(ctx)
		if err != nil {
			return err
		}
		if err := protoerr.Check(caller == state.CreatorAuthority, protoerr.AccountNotSigner, component, "not_creator_authority"); err != nil {
			return err
		}
		if _, err := inv.tx.PriceHistory(ctx); err == nil {
			return protoerr.New(protoerr.InvalidAccountInput, component, "price_history_exists")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		h := pricehistory.New(inv.now.UnixTimestamp, e.params)
		if err := inv.tx.PutPriceHistory(h); err != nil {
			return err
		}
		inv.emit(events.KindCreatePriceHistory, caller, address.Zero, map[string]int64{"intervalStart": h.IntervalStart})
		return nil
	})
}

type SampleResult struct {
	SolPrice      string `json:"solPrice"`
	LucraPrice    string `json:"lucraPrice"`
	IntervalStart int64  `json:"intervalStart"`
	UpdateCounter uint64 `json:"updateCounter"`
}

// RecordPriceSample folds the current SOL and LUCRA prices into the history.
func (e *Engine) RecordPriceSample(ctx context.Context, caller address.Address) (SampleResult, error) {
	var res SampleResult
	err := e.run(ctx, "record_price_sample", func(ctx context.Context, inv *invocation) error {
		h, err := inv.history(ctx)
		if err != nil {
			return err
		}
		now := inv.now.UnixTimestamp
		if err := h.CheckSpacing(now, e.params); err != nil {
			return err
		}

		sol, err := e.prices.Sol(ctx, inv.now.Slot)
		if err != nil {
			return err
		}
		lucra, err := e.prices.Lucra(ctx, inv.now.Slot)
		if err != nil {
			return err
		}
		if err := h.RecordSample(now, sol, lucra, e.params); err != nil {
			return err
		}

		if err := inv.host.Mint(ctx, host.Reward, caller, RewardUnits); err != nil {
			return err
		}
		if err := inv.tx.PutPriceHistory(h); err != nil {
			return err
		}

		inv.onCommit(e.metrics.RecordPriceSample)
		res = SampleResult{
			SolPrice:      sol.String(),
			LucraPrice:    lucra.String(),
			IntervalStart: h.IntervalStart,
			UpdateCounter: h.UpdateCounter,
		}
		inv.emit(events.KindRecordPriceSample, caller, address.Zero, res)
		return nil
	})
	return res, err
}
