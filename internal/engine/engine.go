// Package engine executes the credit facility's instructions. Each
// instruction runs inside one store transaction: every record it touches,
// host effects included, commits together or not at all.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/clock"
	"github.com/lucra/lucra-backend/internal/events"
	"github.com/lucra/lucra-backend/internal/host"
	"github.com/lucra/lucra-backend/internal/metrics"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/peg"
	"github.com/lucra/lucra-backend/internal/pricehistory"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/store"
	"github.com/lucra/lucra-backend/internal/system"
)

const component = "engine"

// Publisher fans committed events out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Journal keeps an append-only record of committed events.
type Journal interface {
	Append(ctx context.Context, ev events.Event) error
}

type Engine struct {
	mu sync.Mutex

	ledger *store.Ledger
	prices *oracle.Prices
	clock  clock.Source
	params pricehistory.Params

	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	publisher Publisher
	journal   Journal
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

func WithJournal(j Journal) Option { return func(e *Engine) { e.journal = j } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithHistoryParams overrides the sampling window, spacing and minimum
// sample count.
func WithHistoryParams(p pricehistory.Params) Option { return func(e *Engine) { e.params = p } }

func New(ledger *store.Ledger, prices *oracle.Prices, clk clock.Source, logger *zap.SugaredLogger, opts ...Option) *Engine {
	e := &Engine{
		ledger: ledger,
		prices: prices,
		clock:  clk,
		params: pricehistory.DefaultParams(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HistoryParams returns the sampling parameters in force.
func (e *Engine) HistoryParams() pricehistory.Params {
	return e.params
}

// invocation is the working set of one instruction.
type invocation struct {
	tx     *store.Tx
	host   *host.Host
	now    clock.Clock
	events []events.Event
	// run only after a successful commit
	committed []func(context.Context)
}

func (inv *invocation) onCommit(fn func(context.Context)) {
	inv.committed = append(inv.committed, fn)
}

func (inv *invocation) emit(kind events.Kind, actor, loanAddr address.Address, data any) {
	inv.events = append(inv.events, events.New(kind, actor, loanAddr, inv.now.Slot, inv.now.UnixTimestamp, data))
}

func (inv *invocation) system(ctx context.Context) (*system.State, error) {
	s, err := inv.tx.System(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protoerr.New(protoerr.NotRentExempt, component, "system_not_initialized")
	}
	return s, err
}

func (inv *invocation) history(ctx context.Context) (*pricehistory.History, error) {
	h, err := inv.tx.PriceHistory(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protoerr.New(protoerr.NotRentExempt, component, "price_history_not_initialized")
	}
	return h, err
}

// run executes fn as one instruction: serialized, all-or-nothing, logged and
// published on success.
func (e *Engine) run(ctx context.Context, name string, fn func(ctx context.Context, inv *invocation) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.ledger.Begin()
	inv := &invocation{tx: tx, host: host.Bind(tx), now: e.clock.Now()}

	if err := fn(ctx, inv); err != nil {
		tx.Rollback()
		e.reject(ctx, name, err)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		e.reject(ctx, name, err)
		return fmt.Errorf("%s: %w", name, err)
	}

	e.metrics.RecordInstruction(ctx, name, "ok")
	for _, fn := range inv.committed {
		fn(ctx)
	}
	if e.logger != nil {
		e.logger.Debugw("instruction committed", "instruction", name, "slot", inv.now.Slot, "events", len(inv.events))
	}
	for _, ev := range inv.events {
		e.dispatch(ctx, ev)
	}
	return nil
}

func (e *Engine) reject(ctx context.Context, name string, err error) {
	kind, tagged := protoerr.KindOf(err)
	if !tagged {
		e.metrics.RecordInstruction(ctx, name, "error")
		if e.logger != nil {
			e.logger.Errorw("instruction failed", "instruction", name, "error", err)
		}
		return
	}
	e.metrics.RecordInstruction(ctx, name, kind.String())
	if e.logger != nil {
		comp, cond := protoerr.Tags(err)
		e.logger.Warnw("instruction rejected",
			"instruction", name,
			"kind", kind.String(),
			"component", comp,
			"condition", cond,
		)
	}
}

// dispatch journals and publishes a committed event. The records are already
// durable, so failures here are logged and dropped.
func (e *Engine) dispatch(ctx context.Context, ev events.Event) {
	if e.journal != nil {
		if err := e.journal.Append(ctx, ev); err != nil && e.logger != nil {
			e.logger.Errorw("Failed to journal event", "kind", ev.Kind, "id", ev.ID, "error", err)
		}
	}
	if e.publisher == nil {
		return
	}

	channels := []string{store.EventChannel(string(ev.Kind))}
	if ev.HasLoan() {
		channels = append(channels, store.ChannelLoanPrefix+ev.Loan.String())
	}
	if ev.Kind == events.KindPegChanged {
		channels = append(channels, store.ChannelPeg)
	}
	for _, ch := range channels {
		if err := e.publisher.Publish(ctx, ch, ev); err != nil && e.logger != nil {
			e.logger.Warnw("Failed to publish event", "channel", ch, "error", err)
		}
	}
}

// applyPeg folds a fresh synthetic-asset price into the peg flag and reports
// whether the flag flipped.
func (e *Engine) applyPeg(ctx context.Context, inv *invocation, state *system.State, price decimal.Decimal, actor address.Address) bool {
	if !peg.Update(state, price) {
		return false
	}
	broken := state.PegBroken
	inv.onCommit(func(ctx context.Context) { e.metrics.RecordPegChange(ctx, broken) })
	inv.emit(events.KindPegChanged, actor, address.Zero, map[string]any{
		"pegBroken": state.PegBroken,
		"mataPrice": price.String(),
	})
	return true
}
