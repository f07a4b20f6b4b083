package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/engine"
	"github.com/lucra/lucra-backend/internal/loan"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/system"
)

// Engine is the slice of the credit engine the keepers drive.
type Engine interface {
	Loans(ctx context.Context) ([]address.Address, error)
	Loan(ctx context.Context, addr address.Address) (loan.Record, error)
	System(ctx context.Context) (*system.State, error)
	BestVenue(ctx context.Context) (oracle.Venue, error)
	RecordPriceSample(ctx context.Context, caller address.Address) (engine.SampleResult, error)
	DeterminePenalty(ctx context.Context, req engine.DeterminePenaltyRequest) (engine.DeterminePenaltyResult, error)
	HarvestPenalty(ctx context.Context, req engine.HarvestRequest) (engine.HarvestResult, error)
}

var _ Engine = (*engine.Engine)(nil)

// every runs fn immediately and then on each tick until ctx ends.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// logRejection keeps expected protocol rejections out of the warning stream.
func logRejection(logger *zap.SugaredLogger, msg string, err error, kv ...interface{}) {
	if kind, ok := protoerr.KindOf(err); ok {
		logger.Debugw(msg, append(kv, "kind", kind.String(), "error", err)...)
		return
	}
	logger.Warnw(msg, append(kv, "error", err)...)
}

// PriceSampler records a price sample for the ledger once per interval.
type PriceSampler struct {
	engine   Engine
	keeper   address.Address
	interval time.Duration
	logger   *zap.SugaredLogger
}

func NewPriceSampler(e Engine, keeper address.Address, interval time.Duration, logger *zap.SugaredLogger) *PriceSampler {
	return &PriceSampler{engine: e, keeper: keeper, interval: interval, logger: logger}
}

func (s *PriceSampler) Start(ctx context.Context) error {
	s.logger.Infow("Starting price sampler", "keeper", s.keeper, "interval", s.interval)
	return every(ctx, s.interval, func(ctx context.Context) { s.Sample(ctx) })
}

// Sample records one sample; it reports whether one was taken.
func (s *PriceSampler) Sample(ctx context.Context) bool {
	res, err := s.engine.RecordPriceSample(ctx, s.keeper)
	if err != nil {
		logRejection(s.logger, "Price sample skipped", err)
		return false
	}
	s.logger.Debugw("Recorded price sample",
		"sol", res.SolPrice,
		"lucra", res.LucraPrice,
		"intervalStart", res.IntervalStart,
		"updates", res.UpdateCounter,
	)
	return true
}

// PenaltyKeeper accrues penalties on every open loan and harvests the ones
// that crossed the minimum.
type PenaltyKeeper struct {
	engine   Engine
	keeper   address.Address
	interval time.Duration
	logger   *zap.SugaredLogger
}

func NewPenaltyKeeper(e Engine, keeper address.Address, interval time.Duration, logger *zap.SugaredLogger) *PenaltyKeeper {
	return &PenaltyKeeper{engine: e, keeper: keeper, interval: interval, logger: logger}
}

func (k *PenaltyKeeper) Start(ctx context.Context) error {
	k.logger.Infow("Starting penalty keeper", "keeper", k.keeper, "interval", k.interval)
	return every(ctx, k.interval, func(ctx context.Context) { k.Sweep(ctx) })
}

// SweepResult counts what one pass over the loans did.
type SweepResult struct {
	Checked   int
	Accrued   int
	Harvested int
}

func (k *PenaltyKeeper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	state, err := k.engine.System(ctx)
	if err != nil {
		logRejection(k.logger, "Penalty sweep skipped", err)
		return res
	}
	addrs, err := k.engine.Loans(ctx)
	if err != nil {
		k.logger.Warnw("Failed to list loans", "error", err)
		return res
	}

	for _, addr := range addrs {
		if ctx.Err() != nil {
			break
		}
		rec, err := k.engine.Loan(ctx, addr)
		if err != nil {
			k.logger.Warnw("Failed to read loan", "loan", addr, "error", err)
			continue
		}
		active, ok := rec.(*loan.Active)
		if !ok || active.Repaid {
			continue
		}
		res.Checked++

		pending := active.PenaltyToHarvest
		det, err := k.engine.DeterminePenalty(ctx, engine.DeterminePenaltyRequest{Caller: k.keeper, Loan: addr})
		if err != nil {
			logRejection(k.logger, "Penalty not determined", err, "loan", addr)
		} else {
			pending = det.PenaltyToHarvest
			if det.Charge > 0 {
				res.Accrued++
			}
		}

		if pending == 0 || pending < state.MinimumHarvestAmount {
			continue
		}
		venue, err := k.engine.BestVenue(ctx)
		if err != nil {
			k.logger.Warnw("No venue for harvest", "loan", addr, "error", err)
			continue
		}
		harvest, err := k.engine.HarvestPenalty(ctx, engine.HarvestRequest{Caller: k.keeper, Loan: addr, Venue: venue})
		if err != nil {
			logRejection(k.logger, "Penalty not harvested", err, "loan", addr, "venue", venue)
			continue
		}
		res.Harvested++
		k.logger.Infow("Harvested penalty",
			"loan", addr,
			"venue", harvest.Venue,
			"penalty", harvest.Penalty,
			"burned", harvest.Burned,
		)
	}

	k.logger.Debugw("Penalty sweep finished", "checked", res.Checked, "accrued", res.Accrued, "harvested", res.Harvested)
	return res
}
