package storage

import (
	"context"
	"fmt"
	"os"
	"testing"

	"investments/internal/config"
	"investments/internal/db"
	"investments/internal/investment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newSQLiteGateway(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	gw := NewSQLite(conn)
	require.NoError(t, gw.EnsureSchema(ctx))
	t.Cleanup(func() { gw.Close() })
	return gw
}

func gateways(t *testing.T) map[string]investment.Gateway {
	out := map[string]investment.Gateway{
		"memory": NewMemory(),
		"sqlite": newSQLiteGateway(t),
	}
	if url := os.Getenv("INVESTD_TEST_DATABASE_URL"); url != "" {
		gw, err := Open(context.Background(), config.Storage{Type: TypePostgres, DatabaseURL: url}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { gw.Close() })
		out["postgres"] = gw
	}
	if addr := os.Getenv("INVESTD_TEST_REDIS_ADDR"); addr != "" {
		gw, err := OpenRedis(context.Background(), config.Storage{RedisAddr: addr, RedisPrefix: "investments-test:" + uuid.NewString() + ":"})
		require.NoError(t, err)
		t.Cleanup(func() { gw.Close() })
		out["redis"] = gw
	}
	return out
}

func TestGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			account := uuid.New()

			empty, err := gw.Load(ctx, account)
			require.NoError(t, err)
			assert.Empty(t, empty.Holdings)
			assert.False(t, empty.AutoCollect)

			rec := investment.Record{
				AutoCollect: true,
				Holdings: []investment.Holding{
					{Invested: dec("10000"), Profit: dec("0")},
					{Invested: dec("2500.5"), Profit: dec("12.34")},
					{Invested: dec("123456789012345678.99"), Profit: dec("0.01")},
				},
			}
			require.NoError(t, gw.Save(ctx, account, rec))

			got, err := gw.Load(ctx, account)
			require.NoError(t, err)
			assert.True(t, got.AutoCollect)
			require.Len(t, got.Holdings, 3)
			for i, h := range rec.Holdings {
				assert.True(t, h.Invested.Equal(got.Holdings[i].Invested), "invested[%d] = %s", i, got.Holdings[i].Invested)
				assert.True(t, h.Profit.Equal(got.Holdings[i].Profit), "profit[%d] = %s", i, got.Holdings[i].Profit)
			}
		})
	}
}

func TestGatewaySaveReplacesRows(t *testing.T) {
	ctx := context.Background()
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			account := uuid.New()
			require.NoError(t, gw.Save(ctx, account, investment.Record{Holdings: []investment.Holding{
				{Invested: dec("1")}, {Invested: dec("2")}, {Invested: dec("3")},
			}}))
			require.NoError(t, gw.Save(ctx, account, investment.Record{Holdings: []investment.Holding{
				{Invested: dec("4"), Profit: dec("0.5")},
			}}))

			got, err := gw.Load(ctx, account)
			require.NoError(t, err)
			require.Len(t, got.Holdings, 1)
			assert.True(t, got.Holdings[0].Invested.Equal(dec("4")))
		})
	}
}

func TestGatewayDeleteAllKeepsAutoCollect(t *testing.T) {
	ctx := context.Background()
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			account := uuid.New()
			other := uuid.New()
			require.NoError(t, gw.Save(ctx, account, investment.Record{
				AutoCollect: true,
				Holdings:    []investment.Holding{{Invested: dec("100")}},
			}))
			require.NoError(t, gw.Save(ctx, other, investment.Record{
				Holdings: []investment.Holding{{Invested: dec("200")}},
			}))

			require.NoError(t, gw.DeleteAll(ctx, account))

			got, err := gw.Load(ctx, account)
			require.NoError(t, err)
			assert.Empty(t, got.Holdings)
			assert.True(t, got.AutoCollect)

			untouched, err := gw.Load(ctx, other)
			require.NoError(t, err)
			assert.Len(t, untouched.Holdings, 1)

			ids, err := gw.Accounts(ctx)
			require.NoError(t, err)
			assert.Contains(t, ids, account)
			assert.Contains(t, ids, other)
		})
	}
}

func TestMemoryDoesNotAliasCallerSlices(t *testing.T) {
	ctx := context.Background()
	gw := NewMemory()
	account := uuid.New()
	holdings := []investment.Holding{{Invested: dec("10")}}
	require.NoError(t, gw.Save(ctx, account, investment.Record{Holdings: holdings}))

	holdings[0].Invested = dec("999")
	got, err := gw.Load(ctx, account)
	require.NoError(t, err)
	assert.True(t, got.Holdings[0].Invested.Equal(dec("10")))

	got.Holdings[0].Invested = dec("555")
	again, err := gw.Load(ctx, account)
	require.NoError(t, err)
	assert.True(t, again.Holdings[0].Invested.Equal(dec("10")))
}

func TestManagerOverSQLite(t *testing.T) {
	ctx := context.Background()
	gw := newSQLiteGateway(t)
	account := uuid.New()

	m := investment.NewManager(gw, nil)
	_, err := m.AddInvestment(ctx, account, dec("10000"))
	require.NoError(t, err)
	require.NoError(t, m.SetAutoCollect(ctx, account, true))
	require.NoError(t, m.Unload(ctx, account))

	fresh := investment.NewManager(gw, nil)
	n, err := fresh.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	p := fresh.Get(ctx, account)
	assert.True(t, p.TotalInvested().Equal(dec("10000")))
	assert.True(t, p.AutoCollect())
}

func TestOpenUnknownTypeFallsBackToSQLite(t *testing.T) {
	gw, err := Open(context.Background(), config.Storage{
		Type:       "mongodb",
		SQLiteFile: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, nil)
	require.NoError(t, err)
	defer gw.Close()
	_, ok := gw.(*SQLite)
	assert.True(t, ok)
}

func TestOpenPostgresRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), config.Storage{Type: TypePostgres}, nil)
	require.Error(t, err)
}
