package journal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/events"
)

// Postgres stores events in the instruction_events table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings, and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if err := Migrate(ctx, dsn, "up"); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Append(ctx context.Context, ev events.Event) error {
	var loanCol *string
	if ev.HasLoan() {
		s := ev.Loan.String()
		loanCol = &s
	}
	data := "{}"
	if len(ev.Data) > 0 {
		data = string(ev.Data)
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO instruction_events (id, kind, actor, loan, slot, ts, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID.String(), string(ev.Kind), ev.Actor.String(), loanCol, int64(ev.Slot), ev.Timestamp, data, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

func (p *Postgres) Recent(ctx context.Context, f Filter) ([]events.Event, error) {
	var loanArg *string
	if !f.Loan.IsZero() {
		s := f.Loan.String()
		loanArg = &s
	}
	var kindArg *string
	if f.Kind != "" {
		s := string(f.Kind)
		kindArg = &s
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id::text, kind, actor, loan, slot, ts, data, created_at
		FROM instruction_events
		WHERE ($1::text IS NULL OR loan = $1)
		  AND ($2::text IS NULL OR kind = $2)
		ORDER BY seq DESC
		LIMIT $3
	`, loanArg, kindArg, f.limit())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return out, nil
}

func scanEvent(row pgx.CollectableRow) (events.Event, error) {
	var (
		id, kind, actor string
		loanCol         *string
		slot            int64
		ev              events.Event
		data            []byte
	)
	if err := row.Scan(&id, &kind, &actor, &loanCol, &slot, &ev.Timestamp, &data, &ev.CreatedAt); err != nil {
		return ev, err
	}

	var err error
	if ev.ID, err = uuid.Parse(id); err != nil {
		return ev, fmt.Errorf("event id: %w", err)
	}
	if ev.Actor, err = address.Parse(actor); err != nil {
		return ev, fmt.Errorf("event actor: %w", err)
	}
	if loanCol != nil {
		if ev.Loan, err = address.Parse(*loanCol); err != nil {
			return ev, fmt.Errorf("event loan: %w", err)
		}
	}
	ev.Kind = events.Kind(kind)
	ev.Slot = uint64(slot)
	if string(data) != "{}" {
		ev.Data = data
	}
	return ev, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}
