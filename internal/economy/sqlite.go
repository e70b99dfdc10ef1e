package economy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const sqliteWalletSchema = `
CREATE TABLE IF NOT EXISTS wallets (
	player_uuid TEXT PRIMARY KEY,
	balance     TEXT NOT NULL DEFAULT '0',
	updated_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// SQLite keeps balances as TEXT next to the investment tables. Arithmetic
// happens in Go inside a transaction; the connection pool holds a single
// connection so read-modify-write sequences never interleave.
type SQLite struct {
	db       *sql.DB
	starting decimal.Decimal
}

func NewSQLite(db *sql.DB, starting decimal.Decimal) *SQLite {
	if starting.IsNegative() {
		starting = decimal.Zero
	}
	return &SQLite{db: db, starting: starting}
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteWalletSchema); err != nil {
		return fmt.Errorf("create wallet schema: %w", err)
	}
	return nil
}

func (s *SQLite) Balance(ctx context.Context, account uuid.UUID) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE player_uuid = ?`, account.String()).Scan(&raw)
	if err == sql.ErrNoRows {
		return s.starting, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

func (s *SQLite) Credit(ctx context.Context, account uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return s.update(ctx, account, func(balance decimal.Decimal) (decimal.Decimal, error) {
		return balance.Add(amount), nil
	})
}

func (s *SQLite) Debit(ctx context.Context, account uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return s.update(ctx, account, func(balance decimal.Decimal) (decimal.Decimal, error) {
		if balance.LessThan(amount) {
			return decimal.Zero, ErrInsufficientFunds
		}
		return balance.Sub(amount), nil
	})
}

func (s *SQLite) update(ctx context.Context, account uuid.UUID, apply func(decimal.Decimal) (decimal.Decimal, error)) error {
	key := account.String()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wallet update: %w", err)
	}
	defer tx.Rollback()

	balance := s.starting
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE player_uuid = ?`, key).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("read balance: %w", err)
	default:
		if balance, err = decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("parse balance %q: %w", raw, err)
		}
	}

	next, err := apply(balance)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (player_uuid, balance) VALUES (?, ?)
		ON CONFLICT (player_uuid) DO UPDATE SET balance = excluded.balance, updated_at = CURRENT_TIMESTAMP
	`, key, next.String()); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return tx.Commit()
}
