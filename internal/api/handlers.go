package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/auth"
	"github.com/lucra/lucra-backend/internal/clock"
	"github.com/lucra/lucra-backend/internal/engine"
	"github.com/lucra/lucra-backend/internal/events"
	"github.com/lucra/lucra-backend/internal/host"
	"github.com/lucra/lucra-backend/internal/journal"
	"github.com/lucra/lucra-backend/internal/loan"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/pricehistory"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/system"
	"github.com/lucra/lucra-backend/internal/ws"
)

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// Engine is everything the API calls on the credit engine.
type Engine interface {
	Originate(ctx context.Context, req engine.OriginateRequest) (engine.OriginateResult, error)
	AddCollateral(ctx context.Context, req engine.AddCollateralRequest) (*loan.Active, error)
	Close(ctx context.Context, req engine.CloseRequest) (engine.CloseResult, error)
	DeterminePenalty(ctx context.Context, req engine.DeterminePenaltyRequest) (engine.DeterminePenaltyResult, error)
	HarvestPenalty(ctx context.Context, req engine.HarvestRequest) (engine.HarvestResult, error)
	RecordPriceSample(ctx context.Context, caller address.Address) (engine.SampleResult, error)
	CreatePriceHistory(ctx context.Context, caller address.Address) error

	Loan(ctx context.Context, addr address.Address) (loan.Record, error)
	Loans(ctx context.Context) ([]address.Address, error)
	History(ctx context.Context) (*pricehistory.History, error)
	HistoryParams() pricehistory.Params
	System(ctx context.Context) (*system.State, error)
	Balance(ctx context.Context, asset host.Asset, owner address.Address) (uint64, error)
	StakeAccount(ctx context.Context, owner address.Address) (host.StakeAccount, error)
}

var _ Engine = (*engine.Engine)(nil)

// PriceSource derives composite prices; *oracle.Prices satisfies it.
type PriceSource interface {
	Sol(ctx context.Context, slot uint64) (decimal.Decimal, error)
	Lucra(ctx context.Context, slot uint64) (decimal.Decimal, error)
	Mata(ctx context.Context, slot uint64) (decimal.Decimal, error)
}

type FeedBoard interface {
	Snapshot() map[oracle.Market]oracle.RawFeed
}

type EventReader interface {
	Recent(ctx context.Context, f journal.Filter) ([]events.Event, error)
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Engine   Engine
	Prices   PriceSource
	Feeds    FeedBoard
	Clock    clock.Source
	Deriver  oracle.Deriver
	Journal  EventReader
	Verifier *auth.Verifier
	Hub      *ws.Hub
	SSE      *ws.SSEHandler
	Checks   map[string]Pinger
	Logger   *zap.SugaredLogger
	Metrics  MetricsInterface
}

type Handler struct {
	engine   Engine
	prices   PriceSource
	feeds    FeedBoard
	clock    clock.Source
	deriver  oracle.Deriver
	journal  EventReader
	verifier *auth.Verifier
	wsHub    *ws.Hub
	sse      *ws.SSEHandler
	checks   map[string]Pinger
	logger   *zap.SugaredLogger
	metrics  MetricsInterface
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		engine:   d.Engine,
		prices:   d.Prices,
		feeds:    d.Feeds,
		clock:    d.Clock,
		deriver:  d.Deriver,
		journal:  d.Journal,
		verifier: d.Verifier,
		wsHub:    d.Hub,
		sse:      d.SSE,
		checks:   d.Checks,
		logger:   d.Logger,
		metrics:  d.Metrics,
	}
}

func (h *Handler) now() ClockDTO {
	c := h.clock.Now()
	return ClockDTO{Slot: c.Slot, UnixTimestamp: c.UnixTimestamp}
}

// Loan endpoints
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	addrs, err := h.engine.Loans(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if addrs == nil {
		addrs = []address.Address{}
	}
	h.writeJSON(w, http.StatusOK, LoanListDTO{Loans: addrs, Count: len(addrs)})
}

func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathAddress(w, r)
	if !ok {
		return
	}
	rec, err := h.engine.Loan(r.Context(), addr)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loanDTO(addr, rec))
}

func (h *Handler) GetLoanEvents(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathAddress(w, r)
	if !ok {
		return
	}
	evs, err := h.journal.Recent(r.Context(), journal.Filter{Loan: addr, Limit: queryLimit(r)})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "JOURNAL_ERROR", err.Error())
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	h.writeJSON(w, http.StatusOK, LoanEventsDTO{Loan: addr, Events: evs})
}

// ListEvents returns recent events, optionally filtered by ?kind=.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	f := journal.Filter{Kind: events.Kind(r.URL.Query().Get("kind")), Limit: queryLimit(r)}
	evs, err := h.journal.Recent(r.Context(), f)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "JOURNAL_ERROR", err.Error())
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.pathAddress(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	dto := AccountDTO{Address: addr}
	for _, asset := range host.Assets() {
		amount, err := h.engine.Balance(ctx, asset, addr)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		dto.Balances = append(dto.Balances, BalanceDTO{Asset: asset, Amount: amount})
	}
	stake, err := h.engine.StakeAccount(ctx, addr)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dto.Stake = stake
	h.writeJSON(w, http.StatusOK, dto)
}

// Ledger endpoints
func (h *Handler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.engine.History(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	entries := hist.Entries()
	if entries == nil {
		entries = []pricehistory.Snapshot{}
	}
	h.writeJSON(w, http.StatusOK, PriceHistoryDTO{History: hist, Params: h.engine.HistoryParams(), Entries: entries})
}

func (h *Handler) GetSystem(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.System(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SystemDTO{State: state, AsOf: h.now()})
}

// GetOraclePrices reports every raw feed and the composite prices derived
// from them at the current slot. A stale feed shows its error instead of a
// price.
func (h *Handler) GetOraclePrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asOf := h.now()
	dto := OraclePricesDTO{AsOf: asOf, Feeds: []FeedDTO{}}

	snapshot := h.feeds.Snapshot()
	for _, market := range oracle.Markets() {
		feed, ok := snapshot[market]
		if !ok {
			dto.Feeds = append(dto.Feeds, FeedDTO{Market: market, Error: "no feed"})
			continue
		}
		fd := FeedDTO{
			Market:        market,
			Mantissa:      feed.Mantissa,
			Exponent:      feed.Exponent,
			LastValidSlot: feed.LastValidSlot,
			Status:        feed.Status,
			Volume:        feed.Volume,
		}
		if price, err := h.deriver.DerivePrice(feed, asOf.Slot); err != nil {
			fd.Error = err.Error()
		} else {
			fd.Price = price.String()
		}
		dto.Feeds = append(dto.Feeds, fd)
	}

	if p, err := h.prices.Sol(ctx, asOf.Slot); err == nil {
		dto.Sol = p.String()
	}
	if p, err := h.prices.Lucra(ctx, asOf.Slot); err == nil {
		dto.Lucra = p.String()
	}
	if p, err := h.prices.Mata(ctx, asOf.Slot); err == nil {
		dto.Mata = p.String()
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// Health and ops endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dto := ReadinessDTO{Status: "ready", Checks: make(map[string]string, len(h.checks)+1)}
	status := http.StatusOK
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			dto.Checks[name] = err.Error()
			dto.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		dto.Checks[name] = "ok"
	}
	if _, err := h.engine.System(ctx); err != nil {
		dto.Checks["system"] = err.Error()
		dto.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		dto.Checks["system"] = "ok"
	}
	h.writeJSON(w, status, dto)
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// SSE endpoint
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sse.HandleSSE(w, r)
}

// Utility methods
func (h *Handler) pathAddress(w http.ResponseWriter, r *http.Request) (address.Address, bool) {
	addr, err := address.Parse(chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return address.Zero, false
	}
	return addr, true
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}
	h.writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// writeEngineError maps protocol rejections to 4xx and everything else to 500.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	data, ok := rejectionData(err)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	status := http.StatusBadRequest
	code := "INSTRUCTION_REJECTED"
	if errors.Is(err, protoerr.NotRentExempt) {
		status, code = http.StatusNotFound, "NOT_INITIALIZED"
	}
	h.logger.Debugw("API error", "code", code, "kind", data.Kind, "condition", data.Condition)
	h.writeJSON(w, status, ErrorResponse{Code: code, Message: err.Error(), Details: data})
}
