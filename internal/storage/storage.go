package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"investments/internal/config"
	"investments/internal/db"
	"investments/internal/investment"
)

const (
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
	TypeRedis    = "redis"
	TypeMemory   = "memory"
)

// Open builds the gateway named by cfg.Type. Unknown types fall back to
// sqlite.
func Open(ctx context.Context, cfg config.Storage, logger *slog.Logger) (investment.Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	switch kind {
	case TypePostgres, TypeSQLite, TypeRedis, TypeMemory:
	default:
		logger.Warn("unknown storage type, using sqlite", "storage_type", cfg.Type)
		kind = TypeSQLite
	}

	switch kind {
	case TypePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("storage %s: database url is required", kind)
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		gw := NewPostgres(pool, true)
		if err := gw.EnsureSchema(ctx); err != nil {
			gw.Close()
			return nil, err
		}
		return gw, nil
	case TypeRedis:
		return OpenRedis(ctx, cfg)
	case TypeMemory:
		return NewMemory(), nil
	default:
		conn, err := db.OpenSQLite(ctx, cfg.SQLiteFile)
		if err != nil {
			return nil, err
		}
		gw := NewSQLite(conn)
		if err := gw.EnsureSchema(ctx); err != nil {
			gw.Close()
			return nil, err
		}
		return gw, nil
	}
}
