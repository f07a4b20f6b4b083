package engine

import (
	"context"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/host"
	"github.com/lucra/lucra-backend/internal/loan"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/pricehistory"
	"github.com/lucra/lucra-backend/internal/system"
)

// Reads use a throwaway transaction and never block instructions.

func (e *Engine) Loan(ctx context.Context, addr address.Address) (loan.Record, error) {
	return e.ledger.Begin().Loan(ctx, addr)
}

// History fails NotRentExempt before CreatePriceHistory has run.
func (e *Engine) History(ctx context.Context) (*pricehistory.History, error) {
	return e.reader().history(ctx)
}

// System fails NotRentExempt before InitializeSystem has run.
func (e *Engine) System(ctx context.Context) (*system.State, error) {
	return e.reader().system(ctx)
}

func (e *Engine) reader() *invocation {
	return &invocation{tx: e.ledger.Begin()}
}

// Loans lists every originated loan address.
func (e *Engine) Loans(ctx context.Context) ([]address.Address, error) {
	return e.ledger.LoanAddresses(ctx)
}

func (e *Engine) Balance(ctx context.Context, asset host.Asset, owner address.Address) (uint64, error) {
	return host.Bind(e.ledger.Begin()).Balance(ctx, asset, owner)
}

func (e *Engine) StakeAccount(ctx context.Context, owner address.Address) (host.StakeAccount, error) {
	return host.Bind(e.ledger.Begin()).StakeAccount(ctx, owner)
}

// BestVenue is the swap venue a harvest should route through right now.
func (e *Engine) BestVenue(ctx context.Context) (oracle.Venue, error) {
	return e.prices.BestVenue(ctx)
}
