package economy

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxWalletRetries = 16

// Redis stores each balance as a decimal string under its own key. Updates
// use WATCH/MULTI and retry when another writer got there first.
type Redis struct {
	client   *redis.Client
	prefix   string
	starting decimal.Decimal
}

func NewRedis(client *redis.Client, prefix string, starting decimal.Decimal) *Redis {
	if prefix == "" {
		prefix = "investments:"
	}
	if starting.IsNegative() {
		starting = decimal.Zero
	}
	return &Redis{client: client, prefix: prefix, starting: starting}
}

func (r *Redis) key(account uuid.UUID) string {
	return r.prefix + "wallet:" + account.String()
}

func (r *Redis) read(ctx context.Context, get func(context.Context, string) *redis.StringCmd, key string) (decimal.Decimal, error) {
	raw, err := get(ctx, key).Result()
	if err == redis.Nil {
		return r.starting, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

func (r *Redis) Balance(ctx context.Context, account uuid.UUID) (decimal.Decimal, error) {
	return r.read(ctx, r.client.Get, r.key(account))
}

func (r *Redis) Credit(ctx context.Context, account uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return r.update(ctx, account, func(balance decimal.Decimal) (decimal.Decimal, error) {
		return balance.Add(amount), nil
	})
}

func (r *Redis) Debit(ctx context.Context, account uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return r.update(ctx, account, func(balance decimal.Decimal) (decimal.Decimal, error) {
		if balance.LessThan(amount) {
			return decimal.Zero, ErrInsufficientFunds
		}
		return balance.Sub(amount), nil
	})
}

func (r *Redis) update(ctx context.Context, account uuid.UUID, apply func(decimal.Decimal) (decimal.Decimal, error)) error {
	key := r.key(account)
	txf := func(tx *redis.Tx) error {
		balance, err := r.read(ctx, tx.Get, key)
		if err != nil {
			return err
		}
		next, err := apply(balance)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next.String(), 0)
			return nil
		})
		return err
	}
	for range maxWalletRetries {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrInsufficientFunds) {
			return fmt.Errorf("update wallet: %w", err)
		}
		return err
	}
	return fmt.Errorf("update wallet %s: too much contention", account)
}
