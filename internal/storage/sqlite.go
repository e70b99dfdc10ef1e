package storage

import (
	"context"
	"database/sql"
	"fmt"

	"investments/internal/investment"

	"github.com/google/uuid"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS investments (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	player_uuid TEXT    NOT NULL,
	invested    TEXT    NOT NULL,
	profit      TEXT    NOT NULL DEFAULT '0'
);
CREATE INDEX IF NOT EXISTS investments_player_idx ON investments (player_uuid, id);
CREATE TABLE IF NOT EXISTS investment_profiles (
	player_uuid  TEXT    PRIMARY KEY,
	auto_collect INTEGER NOT NULL DEFAULT 0
);`

// SQLite mirrors the Postgres layout with decimals kept as TEXT.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// DB exposes the connection so the wallet store can share the file.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create investment schema: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, account uuid.UUID) (investment.Record, error) {
	var rec investment.Record
	key := account.String()

	err := s.db.QueryRowContext(ctx,
		`SELECT auto_collect FROM investment_profiles WHERE player_uuid = ?`, key,
	).Scan(&rec.AutoCollect)
	if err != nil && err != sql.ErrNoRows {
		return investment.Record{}, fmt.Errorf("load profile: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT invested, profit FROM investments WHERE player_uuid = ? ORDER BY id ASC`, key)
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

func (s *SQLite) Save(ctx context.Context, account uuid.UUID, rec investment.Record) error {
	key := account.String()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM investments WHERE player_uuid = ?`, key); err != nil {
		return fmt.Errorf("clear investments: %w", err)
	}
	if len(rec.Holdings) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO investments (player_uuid, invested, profit) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()
		for _, h := range rec.Holdings {
			if _, err := stmt.ExecContext(ctx, key, h.Invested.String(), h.Profit.String()); err != nil {
				return fmt.Errorf("insert investment: %w", err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO investment_profiles (player_uuid, auto_collect) VALUES (?, ?)
		ON CONFLICT (player_uuid) DO UPDATE SET auto_collect = excluded.auto_collect
	`, key, rec.AutoCollect); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) DeleteAll(ctx context.Context, account uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM investments WHERE player_uuid = ?`, account.String()); err != nil {
		return fmt.Errorf("delete investments: %w", err)
	}
	return nil
}

func (s *SQLite) Accounts(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_uuid FROM investment_profiles
		UNION
		SELECT player_uuid FROM investments
		ORDER BY player_uuid
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
