package storage

import (
	"context"
	"fmt"
	"strings"

	"investments/internal/config"
	"investments/internal/investment"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	fieldInvestments = "investments"
	fieldAutoCollect = "auto_collect"
)

// holdingDoc is the msgpack form of one investment.
type holdingDoc struct {
	Invested string `msgpack:"i"`
	Profit   string `msgpack:"p"`
}

// Redis keeps one hash per account: the encoded investment list and the
// auto-collect flag live in separate fields so DeleteAll can drop the list
// alone.
type Redis struct {
	client *redis.Client
	prefix string
}

func OpenRedis(ctx context.Context, cfg config.Storage) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return NewRedis(client, cfg.RedisPrefix), nil
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "investments:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) Prefix() string {
	return r.prefix
}

func (r *Redis) key(account uuid.UUID) string {
	return r.prefix + "profile:" + account.String()
}

func (r *Redis) Load(ctx context.Context, account uuid.UUID) (investment.Record, error) {
	vals, err := r.client.HMGet(ctx, r.key(account), fieldInvestments, fieldAutoCollect).Result()
	if err != nil {
		return investment.Record{}, fmt.Errorf("load profile: %w", err)
	}
	var rec investment.Record
	if raw, ok := vals[0].(string); ok && raw != "" {
		var docs []holdingDoc
		if err := msgpack.Unmarshal([]byte(raw), &docs); err != nil {
			return investment.Record{}, fmt.Errorf("decode investments: %w", err)
		}
		for _, d := range docs {
			h, err := parseHolding(d.Invested, d.Profit)
			if err != nil {
				return investment.Record{}, err
			}
			rec.Holdings = append(rec.Holdings, h)
		}
	}
	if flag, ok := vals[1].(string); ok {
		rec.AutoCollect = flag == "1"
	}
	return rec, nil
}

func (r *Redis) Save(ctx context.Context, account uuid.UUID, rec investment.Record) error {
	docs := make([]holdingDoc, 0, len(rec.Holdings))
	for _, h := range rec.Holdings {
		docs = append(docs, holdingDoc{Invested: h.Invested.String(), Profit: h.Profit.String()})
	}
	raw, err := msgpack.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encode investments: %w", err)
	}
	flag := "0"
	if rec.AutoCollect {
		flag = "1"
	}
	if err := r.client.HSet(ctx, r.key(account), fieldInvestments, raw, fieldAutoCollect, flag).Err(); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (r *Redis) DeleteAll(ctx context.Context, account uuid.UUID) error {
	if err := r.client.HDel(ctx, r.key(account), fieldInvestments).Err(); err != nil {
		return fmt.Errorf("delete investments: %w", err)
	}
	return nil
}

func (r *Redis) Accounts(ctx context.Context) ([]uuid.UUID, error) {
	base := r.prefix + "profile:"
	var out []uuid.UUID
	iter := r.client.Scan(ctx, 0, base+"*", 0).Iterator()
	for iter.Next(ctx) {
		id, err := uuid.Parse(strings.TrimPrefix(iter.Val(), base))
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
