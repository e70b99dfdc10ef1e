package interest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"investments/internal/investment"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	ErrRateNotPositive     = errors.New("interest rate-percent must be > 0")
	ErrIntervalNotPositive = errors.New("interest interval must be > 0")
)

const (
	defaultWorkers = 8
	saveTimeout    = 10 * time.Second
)

// Settings is one accrual configuration. Rate is percent per Interval.
type Settings struct {
	RatePercent   decimal.Decimal
	Interval      time.Duration
	AutoCollect   bool
	Notifications bool
	Workers       int
}

func (s Settings) Validate() error {
	if !s.RatePercent.IsPositive() {
		return ErrRateNotPositive
	}
	if s.Interval <= 0 {
		return ErrIntervalNotPositive
	}
	return nil
}

type ProfileStore interface {
	Loaded() []*investment.Profile
	Save(ctx context.Context, p *investment.Profile) error
}

type ActivityPredicate interface {
	Active(account uuid.UUID) bool
}

type CreditSink interface {
	Credit(ctx context.Context, account uuid.UUID, amount decimal.Decimal) error
}

type NotificationSink interface {
	Notify(ctx context.Context, account uuid.UUID, earned, ratePercent decimal.Decimal)
}

type Recorder interface {
	ObserveTick(TickReport)
}

type Deps struct {
	Profiles    ProfileStore
	Multipliers *Multipliers
	Prefs       *NotifyPrefs
	Activity    ActivityPredicate
	Economy     CreditSink
	Notifier    NotificationSink
	Recorder    Recorder
}

// TickReport summarises one accrual pass.
type TickReport struct {
	Profiles  int
	Inactive  int
	Accrued   int
	Swept     int
	Earned    decimal.Decimal
	Collected decimal.Decimal
	Duration  time.Duration
}

// Service owns the periodic accrual job. Reconfigure is the only way the job
// is (re)started, and it always stops the previous job first. Settings are
// read without the lifecycle lock so readers never wait on a running pass.
type Service struct {
	deps Deps
	log  *slog.Logger

	settings atomic.Pointer[Settings]
	running  atomic.Bool

	mu   sync.Mutex
	cron *cron.Cron
}

func NewService(deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Multipliers == nil {
		deps.Multipliers = NewMultipliers(nil)
	}
	if deps.Prefs == nil {
		deps.Prefs = NewNotifyPrefs(true)
	}
	s := &Service{deps: deps, log: logger.With("component", "interest")}
	s.settings.Store(&Settings{})
	return s
}

func (s *Service) Multipliers() *Multipliers { return s.deps.Multipliers }
func (s *Service) Prefs() *NotifyPrefs       { return s.deps.Prefs }

func (s *Service) Settings() Settings {
	return *s.settings.Load()
}

func (s *Service) Running() bool {
	return s.running.Load()
}

// Configure stores next for Tick and the read paths without touching the
// schedule. One-shot runs use it to load settings with nothing left behind.
func (s *Service) Configure(next Settings) {
	s.settings.Store(&next)
}

// Reconfigure stops any running job, stores next and starts a new job when
// next is valid. An invalid configuration leaves the service stopped.
func (s *Service) Reconfigure(next Settings) bool {
	s.Configure(next)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if err := next.Validate(); err != nil {
		s.log.Warn("interest disabled", "err", err, "rate_percent", next.RatePercent.String(), "interval", next.Interval.String())
		return false
	}

	cronLog := cron.PrintfLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelWarn))
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	c.Schedule(cron.Every(next.Interval), cron.FuncJob(func() {
		report := s.tick(context.Background(), next)
		s.log.Debug("interest tick complete",
			"profiles", report.Profiles,
			"accrued", report.Accrued,
			"earned", report.Earned.String(),
			"duration", report.Duration.String(),
		)
	}))
	c.Start()
	s.cron = c
	s.running.Store(true)

	s.log.Info("interest task started", "rate_percent", next.RatePercent.String(), "interval", next.Interval.String())
	return true
}

// Start (re)starts with the current settings.
func (s *Service) Start() bool {
	return s.Reconfigure(s.Settings())
}

// Stop cancels the schedule and waits for an in-flight tick to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// stopLocked waits out a running pass while holding only the lifecycle lock.
func (s *Service) stopLocked() {
	if s.cron == nil {
		return
	}
	s.running.Store(false)
	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info("interest task stopped")
}

// Tick runs one accrual pass with the current settings, outside the schedule.
func (s *Service) Tick(ctx context.Context) (TickReport, error) {
	settings := s.Settings()
	if err := settings.Validate(); err != nil {
		return TickReport{}, fmt.Errorf("tick: %w", err)
	}
	return s.tick(ctx, settings), nil
}

// EffectiveRate is the base rate scaled by the account's live multipliers.
func (s *Service) EffectiveRate(account uuid.UUID) decimal.Decimal {
	return s.Settings().RatePercent.Mul(s.deps.Multipliers.Effective(account))
}

// InterestFor projects one interval of interest on principal for account.
func (s *Service) InterestFor(account uuid.UUID, principal decimal.Decimal) decimal.Decimal {
	return investment.InterestOn(principal, s.EffectiveRate(account))
}

func (s *Service) tick(ctx context.Context, settings Settings) TickReport {
	start := time.Now()
	profiles := s.deps.Profiles.Loaded()

	workers := settings.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var (
		mu     sync.Mutex
		report = TickReport{Profiles: len(profiles), Earned: decimal.Zero, Collected: decimal.Zero}
		g      errgroup.Group
	)
	g.SetLimit(workers)
	for _, p := range profiles {
		g.Go(func() error {
			out := s.accrueProfile(ctx, p, settings)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.inactive:
				report.Inactive++
			case out.Changed:
				report.Accrued++
				report.Earned = report.Earned.Add(out.Earned)
				if out.Swept {
					report.Swept++
					report.Collected = report.Collected.Add(out.Collected)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	if s.deps.Recorder != nil {
		s.deps.Recorder.ObserveTick(report)
	}
	return report
}

type profileOutcome struct {
	investment.Accrual
	inactive bool
}

func (s *Service) accrueProfile(ctx context.Context, p *investment.Profile, settings Settings) profileOutcome {
	account := p.Owner()
	if s.deps.Activity != nil && !s.deps.Activity.Active(account) {
		return profileOutcome{inactive: true}
	}

	rate := settings.RatePercent.Mul(s.deps.Multipliers.Effective(account))
	sweep := settings.AutoCollect && s.deps.Economy != nil
	res := p.Accrue(rate, sweep)
	if !res.Changed {
		return profileOutcome{Accrual: res}
	}

	if res.Swept && res.Collected.IsPositive() {
		if err := s.deps.Economy.Credit(ctx, account, res.Collected); err != nil {
			s.log.Error("auto-collect credit failed, returning profit", "account", account, "amount", res.Collected.String(), "err", err)
			p.ReturnProfit(res.Collected)
			res.Swept = false
			res.Collected = decimal.Zero
		}
	}

	saveCtx, cancel := context.WithTimeout(ctx, saveTimeout)
	_ = s.deps.Profiles.Save(saveCtx, p)
	cancel()

	if res.Earned.IsPositive() && settings.Notifications && s.deps.Notifier != nil && s.deps.Prefs.Enabled(account) {
		s.deps.Notifier.Notify(ctx, account, res.Earned, rate)
	}
	return profileOutcome{Accrual: res}
}
