package storage

import (
	"context"
	"fmt"

	"investments/internal/investment"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS investments (
	id          BIGSERIAL PRIMARY KEY,
	player_uuid UUID      NOT NULL,
	invested    NUMERIC   NOT NULL CHECK (invested >= 0),
	profit      NUMERIC   NOT NULL DEFAULT 0 CHECK (profit >= 0)
);
CREATE INDEX IF NOT EXISTS investments_player_idx ON investments (player_uuid, id);
CREATE TABLE IF NOT EXISTS investment_profiles (
	player_uuid  UUID    PRIMARY KEY,
	auto_collect BOOLEAN NOT NULL DEFAULT FALSE
);`

// Postgres stores one row per investment plus one profile row per account.
// Decimals travel as text so no precision is lost through float conversion.
type Postgres struct {
	pool    *pgxpool.Pool
	ownPool bool
}

// NewPostgres wraps pool. When own is set, Close also closes the pool.
func NewPostgres(pool *pgxpool.Pool, own bool) *Postgres {
	return &Postgres{pool: pool, ownPool: own}
}

func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create investment schema: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, account uuid.UUID) (investment.Record, error) {
	var rec investment.Record

	err := p.pool.QueryRow(ctx, `
		SELECT auto_collect
		FROM investment_profiles
		WHERE player_uuid = $1
	`, account).Scan(&rec.AutoCollect)
	if err != nil && err != pgx.ErrNoRows {
		return investment.Record{}, fmt.Errorf("load profile: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT invested::text, profit::text
		FROM investments
		WHERE player_uuid = $1
		ORDER BY id ASC
	`, account)
	if err != nil {
		return investment.Record{}, fmt.Errorf("load investments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var invested, profit string
		if err := rows.Scan(&invested, &profit); err != nil {
			return investment.Record{}, fmt.Errorf("scan investment: %w", err)
		}
		h, err := parseHolding(invested, profit)
		if err != nil {
			return investment.Record{}, err
		}
		rec.Holdings = append(rec.Holdings, h)
	}
	if err := rows.Err(); err != nil {
		return investment.Record{}, fmt.Errorf("load investments: %w", err)
	}
	return rec, nil
}

// Save replaces every investment row for the account in one transaction.
func (p *Postgres) Save(ctx context.Context, account uuid.UUID, rec investment.Record) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM investments WHERE player_uuid = $1`, account); err != nil {
		return fmt.Errorf("clear investments: %w", err)
	}

	if len(rec.Holdings) > 0 {
		batch := &pgx.Batch{}
		for _, h := range rec.Holdings {
			batch.Queue(`
				INSERT INTO investments (player_uuid, invested, profit)
				VALUES ($1, $2::numeric, $3::numeric)
			`, account, h.Invested.String(), h.Profit.String())
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert investments: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO investment_profiles (player_uuid, auto_collect)
		VALUES ($1, $2)
		ON CONFLICT (player_uuid) DO UPDATE SET auto_collect = EXCLUDED.auto_collect
	`, account, rec.AutoCollect); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) DeleteAll(ctx context.Context, account uuid.UUID) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM investments WHERE player_uuid = $1`, account); err != nil {
		return fmt.Errorf("delete investments: %w", err)
	}
	return nil
}

func (p *Postgres) Accounts(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT player_uuid FROM investment_profiles
		UNION
		SELECT DISTINCT player_uuid FROM investments
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	if p.ownPool {
		p.pool.Close()
	}
	return nil
}

func parseHolding(invested, profit string) (investment.Holding, error) {
	inv, err := decimal.NewFromString(invested)
	if err != nil {
		return investment.Holding{}, fmt.Errorf("parse invested %q: %w", invested, err)
	}
	prof, err := decimal.NewFromString(profit)
	if err != nil {
		return investment.Holding{}, fmt.Errorf("parse profit %q: %w", profit, err)
	}
	return investment.Holding{Invested: inv, Profit: prof}, nil
}
