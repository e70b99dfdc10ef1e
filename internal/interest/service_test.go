package interest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"investments/internal/investment"
	"investments/internal/notify"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	profiles []*investment.Profile
	saves    atomic.Int32
}

func (m *memStore) add(p *investment.Profile) {
	m.mu.Lock()
	m.profiles = append(m.profiles, p)
	m.mu.Unlock()
}

func (m *memStore) Loaded() []*investment.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*investment.Profile(nil), m.profiles...)
}

func (m *memStore) Save(context.Context, *investment.Profile) error {
	m.saves.Add(1)
	return nil
}

type activitySet map[uuid.UUID]bool

func (a activitySet) Active(id uuid.UUID) bool { return a[id] }

type wallet struct {
	mu       sync.Mutex
	credited map[uuid.UUID]decimal.Decimal
	fail     error
}

func newWallet() *wallet {
	return &wallet{credited: map[uuid.UUID]decimal.Decimal{}}
}

func (w *wallet) Credit(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	if w.fail != nil {
		return w.fail
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.credited[id] = w.credited[id].Add(amount)
	return nil
}

func (w *wallet) balance(id uuid.UUID) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.credited[id]
}

type notification struct {
	account uuid.UUID
	earned  decimal.Decimal
	rate    decimal.Decimal
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(_ context.Context, id uuid.UUID, earned, rate decimal.Decimal) {
	r.mu.Lock()
	r.sent = append(r.sent, notification{account: id, earned: earned, rate: rate})
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.sent...)
}

type fixture struct {
	store    *memStore
	wallet   *wallet
	notifier *recordingNotifier
	active   activitySet
	svc      *Service
}

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()
	f := &fixture{
		store:    &memStore{},
		wallet:   newWallet(),
		notifier: &recordingNotifier{},
		active:   activitySet{},
	}
	f.svc = NewService(Deps{
		Profiles: f.store,
		Activity: f.active,
		Economy:  f.wallet,
		Notifier: f.notifier,
	}, nil)
	f.svc.Reconfigure(settings)
	t.Cleanup(f.svc.Stop)
	return f
}

func (f *fixture) profile(autoCollect bool, holdings ...investment.Holding) *investment.Profile {
	id := uuid.New()
	p := investment.NewProfile(id)
	for _, h := range holdings {
		p.AddInvestment(h.Invested)
	}
	p.SetAutoCollect(autoCollect)
	f.active[id] = true
	f.store.add(p)
	return p
}

func hourly(rate string) Settings {
	return Settings{RatePercent: dec(rate), Interval: time.Hour, AutoCollect: true, Notifications: true}
}

func TestTickAccruesInterest(t *testing.T) {
	f := newFixture(t, hourly("1"))
	p := f.profile(false, investment.Holding{Invested: dec("10000")})

	report, err := f.svc.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Accrued)
	assert.True(t, report.Earned.Equal(dec("100.00")))
	assert.True(t, p.TotalProfit().Equal(dec("100.00")))
	assert.True(t, p.TotalInvested().Equal(dec("10000")))
	assert.EqualValues(t, 1, f.store.saves.Load())

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, p.Owner(), sent[0].account)
	assert.True(t, sent[0].earned.Equal(dec("100")))
	assert.True(t, sent[0].rate.Equal(dec("1")))
}

func TestTickSkipsInactiveAccounts(t *testing.T) {
	f := newFixture(t, hourly("1"))
	p := f.profile(true, investment.Holding{Invested: dec("10000")})
	f.active[p.Owner()] = false

	report, err := f.svc.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Inactive)
	assert.True(t, p.TotalProfit().IsZero())
	assert.Empty(t, f.notifier.all())
	assert.Zero(t, f.store.saves.Load())
}

func TestTickAutoCollectSweepsAllProfit(t *testing.T) {
	f := newFixture(t, hourly("1"))
	p := investment.ProfileFromRecord(uuid.New(), investment.Record{
		AutoCollect: true,
		Holdings: []investment.Holding{
			{Invested: dec("100"), Profit: dec("1.50")},
			{Invested: dec("200"), Profit: dec("2.25")},
		},
	})
	f.active[p.Owner()] = true
	f.store.add(p)

	report, err := f.svc.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Swept)
	assert.True(t, report.Earned.Equal(dec("3.00")))
	assert.True(t, f.wallet.balance(p.Owner()).Equal(dec("6.75")))
	for _, h := range p.Investments() {
		assert.True(t, h.Profit.IsZero())
	}
	require.Len(t, f.notifier.all(), 1)
	assert.True(t, f.notifier.all()[0].earned.Equal(dec("3.00")), "notification reports this tick only")
}

func TestTickAutoCollectDisabledGlobally(t *testing.T) {
	settings := hourly("1")
	settings.AutoCollect = false
	f := newFixture(t, settings)
	p := f.profile(true, investment.Holding{Invested: dec("1000")})

	_, err := f.svc.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, p.TotalProfit().Equal(dec("10.00")))
	assert.True(t, f.wallet.balance(p.Owner()).IsZero())
}

func TestTickReturnsProfitWhenCreditFails(t *testing.T) {
	f := newFixture(t, hourly("1"))
	f.wallet.fail = errors.New("economy offline")
	p := f.profile(true, investment.Holding{Invested: dec("1000")})

	report, err := f.svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Swept)
	assert.True(t, p.TotalProfit().Equal(dec("10.00")))
}

func TestTickAppliesMultipliers(t *testing.T) {
	f := newFixture(t, hourly("1"))
	p := f.profile(false, investment.Holding{Invested: dec("1000")})
	f.svc.Multipliers().SetGlobal(dec("2.0"), 30)
	f.svc.Multipliers().SetForAccount(p.Owner(), dec("1.5"), 30)

	_, err := f.svc.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, p.TotalProfit().Equal(dec("30.00")))
	assert.True(t, f.notifier.all()[0].rate.Equal(dec("3")))
	assert.True(t, f.svc.InterestFor(p.Owner(), dec("1000")).Equal(dec("30.00")))
}

func TestTickNotificationToggles(t *testing.T) {
	settings := hourly("1")
	settings.Notifications = false
	f := newFixture(t, settings)
	f.profile(false, investment.Holding{Invested: dec("1000")})

	_, err := f.svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.notifier.all())

	f.svc.Reconfigure(hourly("1"))
	muted := f.profile(false, investment.Holding{Invested: dec("1000")})
	f.svc.Prefs().Toggle(muted.Owner())

	_, err = f.svc.Tick(context.Background())
	require.NoError(t, err)
	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.NotEqual(t, muted.Owner(), sent[0].account)
}

func TestTickIgnoresUnfundedAndEmptyProfiles(t *testing.T) {
	f := newFixture(t, hourly("1"))
	f.profile(true)
	f.profile(true, investment.Holding{Invested: dec("0.99")})

	report, err := f.svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Profiles)
	assert.Equal(t, 0, report.Accrued)
	assert.Zero(t, f.store.saves.Load())
	assert.Empty(t, f.notifier.all())
}

func TestReconfigureStateMachine(t *testing.T) {
	f := newFixture(t, hourly("1"))
	assert.True(t, f.svc.Running())

	assert.False(t, f.svc.Reconfigure(Settings{RatePercent: dec("0"), Interval: time.Hour}))
	assert.False(t, f.svc.Running())
	_, err := f.svc.Tick(context.Background())
	assert.ErrorIs(t, err, ErrRateNotPositive)

	assert.False(t, f.svc.Reconfigure(Settings{RatePercent: dec("1"), Interval: 0}))
	assert.False(t, f.svc.Running())

	assert.False(t, f.svc.Start(), "start with an invalid configuration stays stopped")

	assert.True(t, f.svc.Reconfigure(hourly("2")))
	assert.True(t, f.svc.Running())
	assert.True(t, f.svc.Settings().RatePercent.Equal(dec("2")))

	f.svc.Stop()
	assert.False(t, f.svc.Running())
	f.svc.Stop()
}

func TestScheduledTickFires(t *testing.T) {
	f := newFixture(t, Settings{RatePercent: dec("1"), Interval: time.Second, Notifications: true})
	p := f.profile(false, investment.Holding{Invested: dec("10000")})

	require.Eventually(t, func() bool {
		return p.TotalProfit().GreaterThanOrEqual(dec("100"))
	}, 5*time.Second, 50*time.Millisecond)

	f.svc.Stop()
	after := p.TotalProfit()
	time.Sleep(1500 * time.Millisecond)
	assert.True(t, p.TotalProfit().Equal(after), "no ticks after Stop returns")
}

func TestConfigureDoesNotSchedule(t *testing.T) {
	svc := NewService(Deps{Profiles: &memStore{}}, nil)
	svc.Configure(hourly("3"))

	assert.False(t, svc.Running())
	assert.True(t, svc.Settings().RatePercent.Equal(dec("3")))
	_, err := svc.Tick(context.Background())
	require.NoError(t, err)
}

// stallingWallet blocks the first credit until release is closed.
type stallingWallet struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *stallingWallet) Credit(ctx context.Context, _ uuid.UUID, _ decimal.Decimal) error {
	w.once.Do(func() { close(w.entered) })
	select {
	case <-w.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSettingsReadableWhileReconfigureWaitsForTick(t *testing.T) {
	store := &memStore{}
	stall := &stallingWallet{entered: make(chan struct{}), release: make(chan struct{})}
	id := uuid.New()
	p := investment.NewProfile(id)
	p.AddInvestment(dec("10000"))
	p.SetAutoCollect(true)
	store.add(p)

	svc := NewService(Deps{Profiles: store, Activity: activitySet{id: true}, Economy: stall}, nil)
	require.True(t, svc.Reconfigure(Settings{RatePercent: dec("1"), Interval: time.Second, AutoCollect: true}))
	t.Cleanup(svc.Stop)

	select {
	case <-stall.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled tick never reached the wallet")
	}

	reconfigured := make(chan bool)
	go func() { reconfigured <- svc.Reconfigure(hourly("2")) }()

	require.Eventually(t, func() bool {
		return svc.EffectiveRate(id).Equal(dec("2")) && svc.Settings().Interval == time.Hour
	}, time.Second, 5*time.Millisecond, "settings readable while a tick is in flight")
	select {
	case <-reconfigured:
		t.Fatal("Reconfigure returned before the running tick finished")
	default:
	}

	close(stall.release)
	assert.True(t, <-reconfigured)
	assert.True(t, svc.Running())
}

func TestTickDoesNotWaitForSlowNotifications(t *testing.T) {
	release := make(chan struct{})
	slow := slowTransport{release: release}
	d := notify.NewDispatcher(notify.Templates{Chat: notify.Template{Enabled: true, Text: "+%amount%"}}, nil, slow)
	t.Cleanup(func() {
		close(release)
		_ = d.Close(context.Background())
	})

	store := &memStore{}
	active := activitySet{}
	for range 5 {
		id := uuid.New()
		p := investment.NewProfile(id)
		p.AddInvestment(dec("10000"))
		active[id] = true
		store.add(p)
	}
	svc := NewService(Deps{Profiles: store, Activity: active, Notifier: d}, nil)
	svc.Configure(Settings{RatePercent: dec("1"), Interval: time.Hour, Notifications: true})

	start := time.Now()
	report, err := svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Accrued)
	assert.Less(t, time.Since(start), time.Second)
}

type slowTransport struct {
	release chan struct{}
}

func (slowTransport) Name() string { return "slow" }

func (s slowTransport) Send(ctx context.Context, _ notify.Message) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
