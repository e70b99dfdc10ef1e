package economy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const walletSchema = `
CREATE TABLE IF NOT EXISTS wallets (
	player_uuid UUID        PRIMARY KEY,
	balance     NUMERIC     NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Postgres keeps balances in a wallets table. Debits are a single
// conditional UPDATE so two concurrent debits cannot overdraw.
type Postgres struct {
	pool     *pgxpool.Pool
	starting decimal.Decimal
}

func NewPostgres(pool *pgxpool.Pool, starting decimal.Decimal) *Postgres {
	if starting.IsNegative() {
		starting = decimal.Zero
	}
	return &Postgres{pool: pool, starting: starting}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, walletSchema); err != nil {
		return fmt.Errorf("create wallet schema: %w", err)
	}
	return nil
}

func (p *Postgres) ensureWallet(ctx context.Context, account uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO wallets (player_uuid, balance)
		VALUES ($1, $2::numeric)
		ON CONFLICT (player_uuid) DO NOTHING
	`, account, p.starting.String())
	if err != nil {
		return fmt.Errorf("open wallet: %w", err)
	}
	return nil
}

func (p *Postgres) Balance(ctx context.Context, account uuid.UUID) (decimal.Decimal, error) {
	if err := p.ensureWallet(ctx, account); err != nil {
		return decimal.Zero, err
	}
	var raw string
	if err := p.pool.QueryRow(ctx, `SELECT balance::text FROM wallets WHERE player_uuid = $1`, account).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

func (p *Postgres) Credit(ctx context.Context, account uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO wallets (player_uuid, balance)
		VALUES ($1, $2::numeric + $3::numeric)
		ON CONFLICT (player_uuid)
		DO UPDATE SET balance = wallets.balance + $3::numeric, updated_at = now()
	`, account, p.starting.String(), amount.String())
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	return nil
}

func (p *Postgres) Debit(ctx context.Context, account uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := p.ensureWallet(ctx, account); err != nil {
		return err
	}
	var remaining string
	err := p.pool.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance - $2::numeric, updated_at = now()
		WHERE player_uuid = $1 AND balance >= $2::numeric
		RETURNING balance::text
	`, account, amount.String()).Scan(&remaining)
	if err == pgx.ErrNoRows {
		return ErrInsufficientFunds
	}
	if err != nil {
		return fmt.Errorf("debit wallet: %w", err)
	}
	return nil
}
