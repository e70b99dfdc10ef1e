package investment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Gateway is the storage contract the cache persists through. Implementations
// may be best effort but must be safe for concurrent use.
type Gateway interface {
	Load(ctx context.Context, account uuid.UUID) (Record, error)
	Save(ctx context.Context, account uuid.UUID, rec Record) error
	DeleteAll(ctx context.Context, account uuid.UUID) error
	Accounts(ctx context.Context) ([]uuid.UUID, error)
	Close() error
}

// Manager is the process-wide profile cache. Profiles are loaded once per
// account and live until Unload.
type Manager struct {
	gw  Gateway
	log *slog.Logger

	profiles sync.Map // uuid.UUID -> *Profile
	loads    singleflight.Group
	size     atomic.Int64

	loadFailures atomic.Uint64
	saveFailures atomic.Uint64
}

func NewManager(gw Gateway, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{gw: gw, log: logger}
}

// Get returns the cached profile, loading it from the gateway on first use.
// Concurrent first calls for one account share a single load. A failed load
// yields an empty profile.
func (m *Manager) Get(ctx context.Context, account uuid.UUID) *Profile {
	if p, ok := m.profiles.Load(account); ok {
		return p.(*Profile)
	}
	ctx = context.WithoutCancel(ctx)
	v, _, _ := m.loads.Do(account.String(), func() (any, error) {
		if p, ok := m.profiles.Load(account); ok {
			return p, nil
		}
		p := NewProfile(account)
		rec, err := m.gw.Load(ctx, account)
		if err != nil {
			m.loadFailures.Add(1)
			m.log.Error("profile load failed, using empty profile", "account", account, "err", err)
		} else {
			p.restore(rec)
		}
		actual, loaded := m.profiles.LoadOrStore(account, p)
		if !loaded {
			m.size.Add(1)
		}
		return actual, nil
	})
	return v.(*Profile)
}

// Peek returns the profile only if it is already cached.
func (m *Manager) Peek(account uuid.UUID) (*Profile, bool) {
	p, ok := m.profiles.Load(account)
	if !ok {
		return nil, false
	}
	return p.(*Profile), true
}

// Save writes the profile's current state. Saves for the same account run one
// at a time and each writes a snapshot taken after the previous one finished.
func (m *Manager) Save(ctx context.Context, p *Profile) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	if err := m.gw.Save(ctx, p.Owner(), p.Snapshot()); err != nil {
		m.saveFailures.Add(1)
		m.log.Error("profile save failed", "account", p.Owner(), "err", err)
		return fmt.Errorf("save profile %s: %w", p.Owner(), err)
	}
	return nil
}

// Loaded is a point-in-time list of cached profiles; the cache may change
// while the caller iterates it.
func (m *Manager) Loaded() []*Profile {
	out := make([]*Profile, 0, m.size.Load())
	m.profiles.Range(func(_, v any) bool {
		out = append(out, v.(*Profile))
		return true
	})
	return out
}

func (m *Manager) Len() int {
	return int(m.size.Load())
}

func (m *Manager) LoadFailures() uint64 { return m.loadFailures.Load() }
func (m *Manager) SaveFailures() uint64 { return m.saveFailures.Load() }

// Warm loads every account the gateway knows about.
func (m *Manager) Warm(ctx context.Context) (int, error) {
	ids, err := m.gw.Accounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	for _, id := range ids {
		m.Get(ctx, id)
	}
	return len(ids), nil
}

func (m *Manager) SaveAll(ctx context.Context) error {
	var errs []error
	for _, p := range m.Loaded() {
		if err := m.Save(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unload saves the account and drops it from the cache.
func (m *Manager) Unload(ctx context.Context, account uuid.UUID) error {
	p, ok := m.Peek(account)
	if !ok {
		return nil
	}
	err := m.Save(ctx, p)
	if m.profiles.CompareAndDelete(account, p) {
		m.size.Add(-1)
	}
	return err
}

func (m *Manager) AddInvestment(ctx context.Context, account uuid.UUID, amount decimal.Decimal) (*Profile, error) {
	p := m.Get(ctx, account)
	if !p.AddInvestment(amount) {
		return p, ErrInvalidAmount
	}
	return p, m.Save(ctx, p)
}

// CollectProfit zeroes the account's profit and returns what was taken.
func (m *Manager) CollectProfit(ctx context.Context, account uuid.UUID) (decimal.Decimal, error) {
	p := m.Get(ctx, account)
	collected := p.CollectAllProfit()
	return collected, m.Save(ctx, p)
}

// DeleteInvestments clears every slot. The gateway drop happens under the
// account's save lock so it cannot interleave with a pending save.
func (m *Manager) DeleteInvestments(ctx context.Context, account uuid.UUID) (int, error) {
	p := m.Get(ctx, account)

	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	n := p.DeleteAllInvestments()
	if err := m.gw.DeleteAll(ctx, account); err != nil {
		m.saveFailures.Add(1)
		m.log.Error("investment delete failed", "account", account, "err", err)
		return n, fmt.Errorf("delete investments %s: %w", account, err)
	}
	return n, nil
}

func (m *Manager) SetAutoCollect(ctx context.Context, account uuid.UUID, on bool) error {
	p := m.Get(ctx, account)
	p.SetAutoCollect(on)
	return m.Save(ctx, p)
}

func (m *Manager) ToggleAutoCollect(ctx context.Context, account uuid.UUID) (bool, error) {
	p := m.Get(ctx, account)
	on := p.ToggleAutoCollect()
	return on, m.Save(ctx, p)
}
