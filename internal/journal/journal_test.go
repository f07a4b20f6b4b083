package journal

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/events"
)

func sample() []events.Event {
	owner := address.FromSeed("owner")
	loanA := address.FromSeed("loan-a")
	loanB := address.FromSeed("loan-b")
	return []events.Event{
		events.New(events.KindInitialize, owner, address.Zero, 1, 100, nil),
		events.New(events.KindOriginate, owner, loanA, 2, 101, map[string]uint64{"amount": 10}),
		events.New(events.KindOriginate, owner, loanB, 3, 102, nil),
		events.New(events.KindClose, owner, loanA, 4, 103, nil),
	}
}

func exerciseJournal(t *testing.T, j Journal) {
	ctx := context.Background()
	evs := sample()
	for _, ev := range evs {
		require.NoError(t, j.Append(ctx, ev))
	}

	all, err := j.Recent(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, evs[3].ID, all[0].ID)
	assert.Equal(t, evs[0].ID, all[3].ID)

	loanA, err := j.Recent(ctx, Filter{Loan: evs[1].Loan})
	require.NoError(t, err)
	require.Len(t, loanA, 2)
	assert.Equal(t, events.KindClose, loanA[0].Kind)
	assert.JSONEq(t, `{"amount":10}`, string(loanA[1].Data))

	originations, err := j.Recent(ctx, Filter{Kind: events.KindOriginate, Limit: 1})
	require.NoError(t, err)
	require.Len(t, originations, 1)
	assert.Equal(t, evs[2].ID, originations[0].ID)

	assert.NoError(t, j.Ping(ctx))
}

func TestMemoryJournal(t *testing.T) {
	exerciseJournal(t, NewMemory(0))
}

func TestMemoryJournalBounded(t *testing.T) {
	m := NewMemory(2)
	for _, ev := range sample() {
		require.NoError(t, m.Append(context.Background(), ev))
	}
	assert.Equal(t, 2, m.Len())

	got, err := m.Recent(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.KindClose, got[0].Kind)
	assert.Equal(t, events.KindOriginate, got[1].Kind)
}

func TestFilterLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, Filter{}.limit())
	assert.Equal(t, MaxLimit, Filter{Limit: 10_000}.limit())
	assert.Equal(t, 7, Filter{Limit: 7}.limit())
}

// Runs only against a disposable database.
func TestPostgresJournal(t *testing.T) {
	dsn := os.Getenv("LCR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LCR_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, dsn, "reset"))

	pg, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer pg.Close()

	exerciseJournal(t, pg)
}
