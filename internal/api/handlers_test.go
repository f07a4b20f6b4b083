package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
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
	"github.com/lucra/lucra-backend/internal/prices"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/system"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Originate(ctx context.Context, req engine.OriginateRequest) (engine.OriginateResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(engine.OriginateResult), args.Error(1)
}

func (m *MockEngine) AddCollateral(ctx context.Context, req engine.AddCollateralRequest) (*loan.Active, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Active), args.Error(1)
}

func (m *MockEngine) Close(ctx context.Context, req engine.CloseRequest) (engine.CloseResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(engine.CloseResult), args.Error(1)
}

func (m *MockEngine) DeterminePenalty(ctx context.Context, req engine.DeterminePenaltyRequest) (engine.DeterminePenaltyResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(engine.DeterminePenaltyResult), args.Error(1)
}

func (m *MockEngine) HarvestPenalty(ctx context.Context, req engine.HarvestRequest) (engine.HarvestResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(engine.HarvestResult), args.Error(1)
}

func (m *MockEngine) RecordPriceSample(ctx context.Context, caller address.Address) (engine.SampleResult, error) {
	args := m.Called(ctx, caller)
	return args.Get(0).(engine.SampleResult), args.Error(1)
}

func (m *MockEngine) CreatePriceHistory(ctx context.Context, caller address.Address) error {
	return m.Called(ctx, caller).Error(0)
}

func (m *MockEngine) Loan(ctx context.Context, addr address.Address) (loan.Record, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(loan.Record), args.Error(1)
}

func (m *MockEngine) Loans(ctx context.Context) ([]address.Address, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]address.Address), args.Error(1)
}

func (m *MockEngine) History(ctx context.Context) (*pricehistory.History, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricehistory.History), args.Error(1)
}

func (m *MockEngine) HistoryParams() pricehistory.Params {
	return pricehistory.Params{Window: 86_400, Spacing: 3_600, MinSamples: 12}
}

func (m *MockEngine) System(ctx context.Context) (*system.State, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*system.State), args.Error(1)
}

func (m *MockEngine) Balance(ctx context.Context, asset host.Asset, owner address.Address) (uint64, error) {
	args := m.Called(ctx, asset, owner)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockEngine) StakeAccount(ctx context.Context, owner address.Address) (host.StakeAccount, error) {
	args := m.Called(ctx, owner)
	return args.Get(0).(host.StakeAccount), args.Error(1)
}

var _ Engine = (*MockEngine)(nil)

type MockMetrics struct{}

func (m *MockMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
}

type fixedPrices struct {
	sol, lucra, mata decimal.Decimal
	err              error
}

func (p fixedPrices) Sol(context.Context, uint64) (decimal.Decimal, error)   { return p.sol, p.err }
func (p fixedPrices) Lucra(context.Context, uint64) (decimal.Decimal, error) { return p.lucra, p.err }
func (p fixedPrices) Mata(context.Context, uint64) (decimal.Decimal, error)  { return p.mata, p.err }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// testNow is the unix time the test clock starts at.
const testNow int64 = 1_700_000_000

type testEnv struct {
	engine  *MockEngine
	board   *prices.Board
	journal *journal.Memory
	clock   *clock.Manual
	handler *Handler
	router  http.Handler
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	env := &testEnv{
		engine:  &MockEngine{},
		board:   prices.NewBoard(),
		journal: journal.NewMemory(0),
		clock:   clock.NewManual(clock.Clock{Slot: 100, UnixTimestamp: testNow}),
	}
	logger := zap.NewNop().Sugar()
	d := Deps{
		Engine: env.engine,
		Prices: fixedPrices{
			sol:   decimal.NewFromInt(150),
			lucra: decimal.RequireFromString("0.02"),
			mata:  decimal.RequireFromString("0.0066"),
		},
		Feeds:    env.board,
		Clock:    env.clock,
		Deriver:  oracle.NewDeriver(25),
		Journal:  env.journal,
		Verifier: auth.NewVerifier(false),
		Logger:   logger,
		Metrics:  &MockMetrics{},
	}
	for _, fn := range mutate {
		fn(&d)
	}
	env.handler = NewHandler(d)
	env.router = env.handler.Routes(NewMiddleware(logger, nil), nil, 0, nil)
	return env
}

func (env *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestGetLoanStatuses(t *testing.T) {
	env := newTestEnv(t)
	fresh := address.FromSeed("fresh")
	open := address.FromSeed("open")
	closed := address.FromSeed("closed")
	owner := address.FromSeed("owner")

	env.engine.On("Loan", mock.Anything, fresh).Return(loan.Uninitialized{}, nil)
	env.engine.On("Loan", mock.Anything, open).Return(&loan.Active{Owner: owner, Type: loan.LockedStakeBacked, Amount: 500}, nil)
	env.engine.On("Loan", mock.Anything, closed).Return(&loan.Active{Owner: owner, Repaid: true}, nil)

	tests := []struct {
		addr   address.Address
		status string
		typ    string
	}{
		{fresh, LoanUninitialized, ""},
		{open, LoanActive, "locked_stake_backed"},
		{closed, LoanRepaid, "default"},
	}
	for _, tc := range tests {
		t.Run(tc.status, func(t *testing.T) {
			w := env.get(t, "/v1/loans/"+tc.addr.String())
			require.Equal(t, http.StatusOK, w.Code)

			var dto LoanDTO
			require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
			assert.Equal(t, tc.addr, dto.Address)
			assert.Equal(t, tc.status, dto.Status)
			assert.Equal(t, tc.typ, dto.Type)
			if tc.status == LoanUninitialized {
				assert.Nil(t, dto.Loan)
			} else {
				require.NotNil(t, dto.Loan)
				assert.Equal(t, owner, dto.Loan.Owner)
			}
		})
	}
	env.engine.AssertExpectations(t)
}

func TestGetLoanBadAddress(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/v1/loans/not-an-address!")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "INVALID_ADDRESS", resp.Code)
	env.engine.AssertNotCalled(t, "Loan", mock.Anything, mock.Anything)
}

func TestListLoans(t *testing.T) {
	env := newTestEnv(t)
	addrs := []address.Address{address.FromSeed("a"), address.FromSeed("b")}
	env.engine.On("Loans", mock.Anything).Return(addrs, nil)

	w := env.get(t, "/v1/loans")
	require.Equal(t, http.StatusOK, w.Code)

	var dto LoanListDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
	assert.Equal(t, 2, dto.Count)
	assert.Equal(t, addrs, dto.Loans)
}

func TestGetSystem(t *testing.T) {
	t.Run("initialized", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.On("System", mock.Anything).Return(&system.State{LoansEnabled: true, LCP: 150}, nil)

		w := env.get(t, "/v1/system")
		require.Equal(t, http.StatusOK, w.Code)

		var dto SystemDTO
		require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
		require.NotNil(t, dto.State)
		assert.True(t, dto.State.LoansEnabled)
		assert.Equal(t, uint64(150), dto.State.LCP)
		assert.Equal(t, uint64(100), dto.AsOf.Slot)
	})

	t.Run("not initialized", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.On("System", mock.Anything).Return(nil, protoerr.New(protoerr.NotRentExempt, "system", "not_initialized"))

		w := env.get(t, "/v1/system")
		assert.Equal(t, http.StatusNotFound, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "NOT_INITIALIZED", resp.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.On("System", mock.Anything).Return(nil, errors.New("redis: connection refused"))

		w := env.get(t, "/v1/system")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetPriceHistory(t *testing.T) {
	env := newTestEnv(t)
	hist := pricehistory.New(1_700_000_000, env.engine.HistoryParams())
	env.engine.On("History", mock.Anything).Return(hist, nil)

	w := env.get(t, "/v1/price-history")
	require.Equal(t, http.StatusOK, w.Code)

	var dto PriceHistoryDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
	assert.Empty(t, dto.Entries)
	assert.NotNil(t, dto.Entries)
	assert.Equal(t, int64(3_600), dto.Params.Spacing)
}

func TestGetOraclePrices(t *testing.T) {
	env := newTestEnv(t)
	env.board.Set(oracle.SolUSDC, oracle.RawFeed{Mantissa: 150_000_000, Exponent: 6, LastValidSlot: 99, Status: oracle.StatusValid})
	// Stale: 100 slots behind the clock.
	env.board.Set(oracle.SolUSDT, oracle.RawFeed{Mantissa: 149_000_000, Exponent: 6, LastValidSlot: 0, Status: oracle.StatusValid})

	w := env.get(t, "/v1/oracle/prices")
	require.Equal(t, http.StatusOK, w.Code)

	var dto OraclePricesDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
	assert.Equal(t, "150", dto.Sol)
	assert.Equal(t, "0.02", dto.Lucra)
	require.Len(t, dto.Feeds, len(oracle.Markets()))

	byMarket := make(map[oracle.Market]FeedDTO)
	for _, f := range dto.Feeds {
		byMarket[f.Market] = f
	}
	assert.Equal(t, "150", byMarket[oracle.SolUSDC].Price)
	assert.Empty(t, byMarket[oracle.SolUSDC].Error)
	assert.Empty(t, byMarket[oracle.SolUSDT].Price)
	assert.NotEmpty(t, byMarket[oracle.SolUSDT].Error)
	assert.Equal(t, "no feed", byMarket[oracle.LucraSol].Error)
}

func TestGetAccount(t *testing.T) {
	env := newTestEnv(t)
	owner := address.FromSeed("owner")
	for _, asset := range host.Assets() {
		env.engine.On("Balance", mock.Anything, asset, owner).Return(uint64(7), nil)
	}
	env.engine.On("StakeAccount", mock.Anything, owner).Return(host.StakeAccount{Total: 10, Locked: 4}, nil)

	w := env.get(t, "/v1/accounts/"+owner.String())
	require.Equal(t, http.StatusOK, w.Code)

	var dto AccountDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
	require.Len(t, dto.Balances, len(host.Assets()))
	for _, b := range dto.Balances {
		assert.Equal(t, uint64(7), b.Amount)
	}
	assert.Equal(t, uint64(4), dto.Stake.Locked)
}

func TestEventsFromJournal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	loanA := address.FromSeed("loan-a")
	loanB := address.FromSeed("loan-b")
	actor := address.FromSeed("owner")

	require.NoError(t, env.journal.Append(ctx, events.New(events.KindOriginate, actor, loanA, 1, 10, nil)))
	require.NoError(t, env.journal.Append(ctx, events.New(events.KindOriginate, actor, loanB, 2, 20, nil)))
	require.NoError(t, env.journal.Append(ctx, events.New(events.KindClose, actor, loanA, 3, 30, nil)))

	t.Run("per loan", func(t *testing.T) {
		w := env.get(t, "/v1/loans/"+loanA.String()+"/events")
		require.Equal(t, http.StatusOK, w.Code)

		var dto LoanEventsDTO
		require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
		require.Len(t, dto.Events, 2)
		assert.Equal(t, events.KindClose, dto.Events[0].Kind)
		assert.Equal(t, events.KindOriginate, dto.Events[1].Kind)
	})

	t.Run("by kind", func(t *testing.T) {
		w := env.get(t, "/v1/events?kind=ORIGINATE&limit=1")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Events []events.Event `json:"events"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		require.Len(t, body.Events, 1)
		assert.Equal(t, loanB, body.Events[0].Loan)
	})
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) {
			d.Checks = map[string]Pinger{"kv": pingFunc(func(context.Context) error { return nil })}
		})
		env.engine.On("System", mock.Anything).Return(&system.State{}, nil)

		w := env.get(t, "/readyz")
		assert.Equal(t, http.StatusOK, w.Code)

		var dto ReadinessDTO
		require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
		assert.Equal(t, "ready", dto.Status)
		assert.Equal(t, "ok", dto.Checks["kv"])
		assert.Equal(t, "ok", dto.Checks["system"])
	})

	t.Run("dependency down", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) {
			d.Checks = map[string]Pinger{"journal": pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })}
		})
		env.engine.On("System", mock.Anything).Return(&system.State{}, nil)

		w := env.get(t, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var dto ReadinessDTO
		require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
		assert.Equal(t, "unavailable", dto.Status)
		assert.Equal(t, "dial tcp: refused", dto.Checks["journal"])
	})
}

func TestHealthzAndRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
