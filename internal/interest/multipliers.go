package interest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Multiplier is a time-boxed rate boost.
type Multiplier struct {
	Factor    decimal.Decimal `json:"factor"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// expired treats the expiry instant itself as past, so a zero-minute boost
// is gone on the next read.
func (m Multiplier) expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Multipliers holds one optional global boost and per-account boosts.
// Expired entries are dropped when read, never by a sweeper.
type Multipliers struct {
	now      func() time.Time
	global   atomic.Pointer[Multiplier]
	accounts sync.Map // uuid.UUID -> *Multiplier
}

func NewMultipliers(now func() time.Time) *Multipliers {
	if now == nil {
		now = time.Now
	}
	return &Multipliers{now: now}
}

func (r *Multipliers) entry(factor decimal.Decimal, minutes int) *Multiplier {
	if minutes < 0 {
		minutes = 0
	}
	return &Multiplier{
		Factor:    factor,
		ExpiresAt: r.now().Add(time.Duration(minutes) * time.Minute),
	}
}

// SetGlobal replaces the global boost; durations do not stack.
func (r *Multipliers) SetGlobal(factor decimal.Decimal, minutes int) Multiplier {
	m := r.entry(factor, minutes)
	r.global.Store(m)
	return *m
}

func (r *Multipliers) SetForAccount(account uuid.UUID, factor decimal.Decimal, minutes int) Multiplier {
	m := r.entry(factor, minutes)
	r.accounts.Store(account, m)
	return *m
}

func (r *Multipliers) Global() (Multiplier, bool) {
	m := r.global.Load()
	if m == nil {
		return Multiplier{}, false
	}
	if m.expired(r.now()) {
		r.global.CompareAndSwap(m, nil)
		return Multiplier{}, false
	}
	return *m, true
}

func (r *Multipliers) ForAccount(account uuid.UUID) (Multiplier, bool) {
	v, ok := r.accounts.Load(account)
	if !ok {
		return Multiplier{}, false
	}
	m := v.(*Multiplier)
	if m.expired(r.now()) {
		r.accounts.CompareAndDelete(account, m)
		return Multiplier{}, false
	}
	return *m, true
}

// Effective composes the live global and account boosts multiplicatively.
// Non-positive factors are skipped rather than zeroing earnings.
func (r *Multipliers) Effective(account uuid.UUID) decimal.Decimal {
	out := decimal.NewFromInt(1)
	if m, ok := r.Global(); ok && m.Factor.IsPositive() {
		out = out.Mul(m.Factor)
	}
	if m, ok := r.ForAccount(account); ok && m.Factor.IsPositive() {
		out = out.Mul(m.Factor)
	}
	return out
}
