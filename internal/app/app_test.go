package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"investments/internal/config"
	"investments/internal/economy"
	"investments/internal/investment"
	"investments/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type flakyWallets struct {
	*economy.Memory
	failCredit bool
}

func (f *flakyWallets) Credit(ctx context.Context, account uuid.UUID, amount decimal.Decimal) error {
	if f.failCredit {
		return errors.New("economy offline")
	}
	return f.Memory.Credit(ctx, account, amount)
}

type harness struct {
	app     *App
	gw      *storage.Memory
	wallets *flakyWallets
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	h := &harness{
		gw:      storage.NewMemory(),
		wallets: &flakyWallets{Memory: economy.NewMemory(dec("100000"))},
	}
	a, err := New(context.Background(), cfg, Options{Gateway: h.gw, Wallets: h.wallets})
	require.NoError(t, err)
	t.Cleanup(func() { a.Interest.Stop() })
	h.app = a
	return h
}

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.Auth.Secret = "test-secret"
	cfg.Permissions.Default = []string{PermUse}
	return cfg
}

func (h *harness) balance(t *testing.T, account uuid.UUID) decimal.Decimal {
	t.Helper()
	b, err := h.wallets.Balance(context.Background(), account)
	require.NoError(t, err)
	return b
}

func TestInvestChecksMinimumAndFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseConfig())
	account := uuid.New()

	_, err := h.app.Invest(ctx, account, "5k")
	assert.ErrorIs(t, err, investment.ErrBelowMinimum)

	_, err = h.app.Invest(ctx, account, "lots")
	assert.ErrorIs(t, err, investment.ErrInvalidAmount)

	amount, err := h.app.Invest(ctx, account, "60k")
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("60000")))
	assert.True(t, h.balance(t, account).Equal(dec("40000")))

	_, err = h.app.Invest(ctx, account, "50k")
	assert.ErrorIs(t, err, economy.ErrInsufficientFunds)

	view := h.app.View(ctx, account)
	assert.Equal(t, 1, view.Count, "failed debit adds nothing")
	assert.True(t, view.TotalInvested.Equal(dec("60000")))

	rec, err := h.gw.Load(ctx, account)
	require.NoError(t, err)
	assert.Len(t, rec.Holdings, 1)
}

func TestInvestEnforcesLimits(t *testing.T) {
	ctx := context.Background()
	capped := uuid.New()
	cfg := baseConfig()
	cfg.MaxInvest = map[string]int{PermUse: 2}
	cfg.Permissions.Accounts = map[string][]string{capped.String(): {"invest.maxlimit.25k"}}
	h := newHarness(t, cfg)

	account := uuid.New()
	for range 2 {
		_, err := h.app.Invest(ctx, account, "10000")
		require.NoError(t, err)
	}
	_, err := h.app.Invest(ctx, account, "10000")
	assert.ErrorIs(t, err, investment.ErrSlotLimit)

	_, err = h.app.Invest(ctx, capped, "20k")
	require.NoError(t, err)
	_, err = h.app.Invest(ctx, capped, "10k")
	assert.ErrorIs(t, err, investment.ErrPrincipalLimit)
	assert.True(t, h.balance(t, capped).Equal(dec("80000")))
}

func TestInvestAcceptsPresets(t *testing.T) {
	cfg := baseConfig()
	cfg.Presets = map[string]decimal.Decimal{"Small": dec("12500")}
	h := newHarness(t, cfg)

	amount, err := h.app.Invest(context.Background(), uuid.New(), " small ")
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("12500")))
}

func TestCollectCreditsWallet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseConfig())
	account := uuid.New()

	got, err := h.app.Collect(ctx, account)
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "nothing to collect is not an error")

	_, err = h.app.Invest(ctx, account, "10000")
	require.NoError(t, err)
	h.app.Manager.Get(ctx, account).Accrue(dec("1"), false)

	got, err = h.app.Collect(ctx, account)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("100")))
	assert.True(t, h.balance(t, account).Equal(dec("90100")))
	assert.True(t, h.app.View(ctx, account).TotalProfit.IsZero())
}

func TestCollectReturnsProfitWhenCreditFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseConfig())
	account := uuid.New()

	_, err := h.app.Invest(ctx, account, "10000")
	require.NoError(t, err)
	h.app.Manager.Get(ctx, account).Accrue(dec("1"), false)

	h.wallets.failCredit = true
	_, err = h.app.Collect(ctx, account)
	require.Error(t, err)
	assert.True(t, h.app.View(ctx, account).TotalProfit.Equal(dec("100")))
}

func TestToggleAutoCollectNeedsPermission(t *testing.T) {
	ctx := context.Background()
	allowed := uuid.New()
	cfg := baseConfig()
	cfg.Permissions.Accounts = map[string][]string{allowed.String(): {"investments.autocollect"}}
	h := newHarness(t, cfg)

	_, err := h.app.ToggleAutoCollect(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrForbidden)

	on, err := h.app.ToggleAutoCollect(ctx, allowed)
	require.NoError(t, err)
	assert.True(t, on)
	rec, _ := h.gw.Load(ctx, allowed)
	assert.True(t, rec.AutoCollect)
}

func TestDeleteInvestments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseConfig())
	account := uuid.New()

	_, err := h.app.DeleteInvestments(ctx, account, true)
	assert.ErrorIs(t, err, investment.ErrNoInvestments)

	_, err = h.app.Give(ctx, account, "1m")
	require.NoError(t, err)
	assert.True(t, h.balance(t, account).Equal(dec("100000")), "give does not debit")

	_, err = h.app.DeleteInvestments(ctx, account, false)
	assert.ErrorIs(t, err, ErrConfirmRequired)

	n, err := h.app.DeleteInvestments(ctx, account, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, h.app.View(ctx, account).Count)
}

func TestSetMultiplier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseConfig())
	account := uuid.New()

	for _, tc := range []struct {
		target, factor string
		minutes        int
		want           error
	}{
		{"all", "0", 10, ErrInvalidMultiplier},
		{"all", "abc", 10, ErrInvalidMultiplier},
		{"all", "2", 0, ErrInvalidMultiplier},
		{"someone", "2", 10, ErrUnknownAccount},
	} {
		_, err := h.app.SetMultiplier(tc.target, tc.factor, tc.minutes)
		assert.ErrorIs(t, err, tc.want, "%+v", tc)
	}

	_, err := h.app.SetMultiplier("ALL", "2", 30)
	require.NoError(t, err)
	_, err = h.app.SetMultiplier(account.String(), "1.5", 30)
	require.NoError(t, err)

	_, err = h.app.Give(ctx, account, "10000")
	require.NoError(t, err)
	view := h.app.View(ctx, account)
	assert.True(t, view.Multiplier.Equal(dec("3")))
	assert.True(t, view.Projected.Equal(dec("300")))
}

func TestTickHonoursPresence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseConfig())
	online := uuid.New()
	offline := uuid.New()
	for _, id := range []uuid.UUID{online, offline} {
		_, err := h.app.Give(ctx, id, "10000")
		require.NoError(t, err)
	}
	h.app.Presence.Touch(online)

	report, err := h.app.Interest.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accrued)
	assert.Equal(t, 1, report.Inactive)
	assert.True(t, h.app.View(ctx, online).TotalProfit.Equal(dec("100")))
	assert.True(t, h.app.View(ctx, offline).TotalProfit.IsZero())
}

func TestReloadAppliesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "investments.yml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("interest:\n  rate-percent: 0\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	h := newHarness(t, cfg)
	h.app.configPath = path
	assert.False(t, h.app.Start(), "zero rate keeps the scheduler stopped")

	write("interest:\n  rate-percent: 2\n  interval-minutes: 5\n  offline-accrual: true\nmax-invest-permissions:\n  investments.use: 1\n")
	running, err := h.app.Reload()
	require.NoError(t, err)
	assert.True(t, running)
	assert.True(t, h.app.Interest.Settings().RatePercent.Equal(dec("2")))
	assert.True(t, h.app.Activity.Active(uuid.New()))
	assert.Equal(t, 1, h.app.Limiter.MaxSlots(uuid.New()))

	write("interest: [broken")
	_, err = h.app.Reload()
	require.Error(t, err)
	assert.True(t, h.app.Interest.Running(), "a broken file leaves the running config alone")
}

func TestCloseSavesProfiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseConfig())
	account := uuid.New()
	_, err := h.app.Give(ctx, account, "10000")
	require.NoError(t, err)
	h.app.Manager.Get(ctx, account).Accrue(dec("1"), false)

	require.NoError(t, h.app.Close(ctx))
	rec, err := h.gw.Load(ctx, account)
	require.NoError(t, err)
	require.Len(t, rec.Holdings, 1)
	assert.True(t, rec.Holdings[0].Profit.Equal(dec("100")))
}

func sqliteConfig(t *testing.T) config.Config {
	cfg := baseConfig()
	cfg.StorageType = storage.TypeSQLite
	cfg.SQLite.File = filepath.Join(t.TempDir(), "investments.db")
	cfg.Interest.OfflineAccrual = true
	return cfg
}

func TestAutoCollectSurvivesRestartOnSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	account := uuid.New()

	a, err := New(ctx, cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, a.Gateway.Save(ctx, account, investment.Record{
		AutoCollect: true,
		Holdings:    []investment.Holding{{Invested: dec("10000"), Profit: dec("1.50")}},
	}))

	a.Interest.Configure(InterestSettings(cfg))
	assert.False(t, a.Interest.Running())
	n, err := a.Manager.Warm(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	report, err := a.Interest.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Swept)
	require.NoError(t, a.Close(ctx))

	reopened, err := New(ctx, cfg, Options{})
	require.NoError(t, err)
	defer reopened.Close(ctx)

	view := reopened.View(ctx, account)
	assert.True(t, view.TotalProfit.IsZero(), "profit was swept")
	assert.True(t, view.Balance.Equal(dec("101.50")), "balance=%s", view.Balance)
	assert.True(t, view.TotalInvested.Equal(dec("10000")))
}

func TestInvestDebitSurvivesRestartOnSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	cfg.Economy.StartingBalance = dec("50000")
	account := uuid.New()

	a, err := New(ctx, cfg, Options{})
	require.NoError(t, err)
	_, err = a.Invest(ctx, account, "20k")
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	reopened, err := New(ctx, cfg, Options{})
	require.NoError(t, err)
	defer reopened.Close(ctx)
	view := reopened.View(ctx, account)
	assert.True(t, view.Balance.Add(view.TotalInvested).Equal(dec("50000")), "balance=%s invested=%s", view.Balance, view.TotalInvested)
}
