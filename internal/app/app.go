package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"investments/internal/auth"
	"investments/internal/config"
	"investments/internal/economy"
	"investments/internal/interest"
	"investments/internal/investment"
	"investments/internal/metrics"
	"investments/internal/notify"
	"investments/internal/perms"
	"investments/internal/presence"
	"investments/internal/storage"
)

const notifyFlushTimeout = 5 * time.Second

type Options struct {
	ConfigPath string
	Logger     *slog.Logger
	// Gateway and Wallets override what the config would open.
	Gateway investment.Gateway
	Wallets economy.Wallets
}

// App is the running investment system: storage, cache, scheduler and the
// collaborators the scheduler talks to.
type App struct {
	log        *slog.Logger
	configPath string
	cfg        atomic.Pointer[config.Config]

	Gateway  investment.Gateway
	Manager  *investment.Manager
	Limiter  *investment.Limiter
	Perms    *perms.Table
	Wallets  economy.Wallets
	Presence *presence.Tracker
	Activity *presence.Policy
	Hub      *notify.Hub
	Notifier *notify.Dispatcher
	Metrics  *metrics.Metrics
	Interest *interest.Service
	Tokens   *auth.Issuer
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{log: logger, configPath: opts.ConfigPath}

	gw := opts.Gateway
	if gw == nil {
		var err error
		gw, err = storage.Open(ctx, cfg.Storage(), logger)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}
	a.Gateway = gw

	a.Wallets = opts.Wallets
	if a.Wallets == nil {
		w, err := openWallets(ctx, gw, cfg, logger)
		if err != nil {
			gw.Close()
			return nil, err
		}
		a.Wallets = w
	}

	a.Manager = investment.NewManager(gw, logger.With("component", "profiles"))
	a.Perms = perms.New(cfg.Permissions)
	a.Limiter = investment.NewLimiter(a.Perms, investment.Limits{})
	a.Presence = presence.NewTracker(cfg.Presence.TTL, nil)
	a.Activity = presence.NewPolicy(a.Presence, cfg.Interest.OfflineAccrual)
	a.Hub = notify.NewHub()
	a.Metrics = metrics.New(a.Manager)

	transports := []notify.Transport{a.Hub, notify.NewLogTransport(logger.With("component", "notify"))}
	if url := cfg.Notifications.Discord.WebhookURL; url != "" {
		d, err := notify.NewDiscord(url, cfg.Notifications.Discord.Message)
		if err != nil {
			logger.Warn("discord notifications disabled", "err", err)
		} else {
			transports = append(transports, d)
		}
	}
	a.Notifier = notify.NewDispatcher(templates(cfg), logger, transports...)

	a.Interest = interest.NewService(interest.Deps{
		Profiles:    a.Manager,
		Multipliers: interest.NewMultipliers(nil),
		Prefs:       interest.NewNotifyPrefs(cfg.Notifications.DefaultEnabled),
		Activity:    a.Activity,
		Economy:     a.Wallets,
		Notifier:    a.Notifier,
		Recorder:    a.Metrics,
	}, logger)

	if issuer, err := auth.NewIssuer(cfg.Auth.Secret); err == nil {
		a.Tokens = issuer
	} else {
		logger.Warn("bearer auth disabled", "err", err)
	}

	a.apply(cfg, false)
	return a, nil
}

// openWallets puts balances in the same backend as the investment records.
// The in-memory gateway gets in-memory wallets, which do not survive a
// restart.
func openWallets(ctx context.Context, gw investment.Gateway, cfg config.Config, logger *slog.Logger) (economy.Wallets, error) {
	starting := cfg.Economy.StartingBalance
	switch g := gw.(type) {
	case *storage.Postgres:
		w := economy.NewPostgres(g.Pool(), starting)
		if err := w.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return w, nil
	case *storage.SQLite:
		w := economy.NewSQLite(g.DB(), starting)
		if err := w.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return w, nil
	case *storage.Redis:
		return economy.NewRedis(g.Client(), g.Prefix(), starting), nil
	default:
		logger.Warn("wallet balances are kept in memory and reset on restart", "gateway", fmt.Sprintf("%T", gw))
		return economy.NewMemory(starting), nil
	}
}

func (a *App) Config() config.Config {
	return *a.cfg.Load()
}

func InterestSettings(cfg config.Config) interest.Settings {
	return interest.Settings{
		RatePercent:   cfg.Interest.RatePercent,
		Interval:      cfg.Interest.Interval(),
		AutoCollect:   cfg.AutoCollect.Enabled,
		Notifications: cfg.Notifications.Enabled,
		Workers:       cfg.Interest.Workers,
	}
}

func templates(cfg config.Config) notify.Templates {
	n := cfg.Notifications
	return notify.Templates{
		Chat:      notify.Template{Enabled: n.Chat.Enabled, Text: n.Chat.Message},
		ActionBar: notify.Template{Enabled: n.ActionBar.Enabled, Text: n.ActionBar.Message},
	}
}

// Start runs the scheduler with the loaded settings. It reports whether the
// scheduler is running; a disabled rate or interval is not an error.
func (a *App) Start() bool {
	return a.Interest.Reconfigure(InterestSettings(a.Config()))
}

// Reload re-reads the config file and applies everything that can change at
// runtime. Storage and the listen address need a restart.
func (a *App) Reload() (bool, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return a.Interest.Running(), fmt.Errorf("reload config: %w", err)
	}
	if prev := a.Config(); prev.StorageType != cfg.StorageType {
		a.log.Warn("storage-type changed, restart required", "current", prev.StorageType, "configured", cfg.StorageType)
	}
	return a.apply(cfg, true), nil
}

func (a *App) apply(cfg config.Config, restart bool) bool {
	a.cfg.Store(&cfg)
	a.Perms.Reload(cfg.Permissions)
	a.Limiter.Reload(investment.Limits{Slots: cfg.MaxInvest, DefaultMaxTotal: cfg.DefaultMax})
	a.Activity.SetEveryone(cfg.Interest.OfflineAccrual)
	a.Interest.Prefs().SetDefault(cfg.Notifications.DefaultEnabled)
	a.Notifier.SetTemplates(templates(cfg))
	if !restart {
		a.Interest.Configure(InterestSettings(cfg))
		return false
	}
	return a.Interest.Reconfigure(InterestSettings(cfg))
}

// Close stops the scheduler, waiting out a running pass, then saves every
// cached profile and closes storage.
func (a *App) Close(ctx context.Context) error {
	a.Interest.Stop()
	flushCtx, cancel := context.WithTimeout(ctx, notifyFlushTimeout)
	if err := a.Notifier.Close(flushCtx); err != nil {
		a.log.Warn("pending notifications dropped on shutdown", "err", err)
	}
	cancel()
	var errs []error
	if err := a.Manager.SaveAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Gateway.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}
