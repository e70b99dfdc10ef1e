package investment

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Profile is an account's ordered set of investments plus its auto-collect
// flag. mu guards all in-memory state; saveMu orders persistence for the
// account and is never held while mu is waited on by a tick.
type Profile struct {
	owner uuid.UUID

	mu          sync.Mutex
	investments []*Investment
	autoCollect bool

	saveMu sync.Mutex
}

func NewProfile(owner uuid.UUID) *Profile {
	return &Profile{owner: owner}
}

// ProfileFromRecord builds a profile already holding rec.
func ProfileFromRecord(owner uuid.UUID, rec Record) *Profile {
	p := NewProfile(owner)
	p.restore(rec)
	return p
}

func (p *Profile) Owner() uuid.UUID {
	return p.owner
}

func (p *Profile) AutoCollect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoCollect
}

func (p *Profile) SetAutoCollect(on bool) {
	p.mu.Lock()
	p.autoCollect = on
	p.mu.Unlock()
}

func (p *Profile) ToggleAutoCollect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoCollect = !p.autoCollect
	return p.autoCollect
}

// AddInvestment appends a new slot with zero profit. Limits and funds are the
// caller's concern.
func (p *Profile) AddInvestment(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	p.mu.Lock()
	p.investments = append(p.investments, NewInvestment(p.owner, amount, decimal.Zero))
	p.mu.Unlock()
	return true
}

// DeleteAllInvestments drops every slot and returns how many there were.
func (p *Profile) DeleteAllInvestments() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.investments)
	p.investments = nil
	return n
}

// CollectAllProfit zeroes profit on every slot and returns the sum. Manual
// collection and auto-collect both go through here.
func (p *Profile) CollectAllProfit() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.collectLocked()
}

func (p *Profile) collectLocked() decimal.Decimal {
	total := decimal.Zero
	for _, inv := range p.investments {
		total = total.Add(inv.TakeProfit())
	}
	return total
}

// ReturnProfit puts back profit that was taken but could not be paid out.
// It lands on the first slot; with no slots left the amount is dropped.
func (p *Profile) ReturnProfit(amount decimal.Decimal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.investments) == 0 {
		return false
	}
	return p.investments[0].AddProfit(amount)
}

func (p *Profile) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.investments)
}

func (p *Profile) TotalInvested() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := decimal.Zero
	for _, inv := range p.investments {
		total = total.Add(inv.Invested())
	}
	return total
}

func (p *Profile) TotalProfit() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := decimal.Zero
	for _, inv := range p.investments {
		total = total.Add(inv.Profit())
	}
	return total
}

// Investments returns a copy of the slots in insertion order.
func (p *Profile) Investments() []Holding {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdingsLocked()
}

func (p *Profile) holdingsLocked() []Holding {
	out := make([]Holding, 0, len(p.investments))
	for _, inv := range p.investments {
		out = append(out, Holding{Invested: inv.Invested(), Profit: inv.Profit()})
	}
	return out
}

// Snapshot copies the profile into its persisted form.
func (p *Profile) Snapshot() Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Record{Holdings: p.holdingsLocked(), AutoCollect: p.autoCollect}
}

func (p *Profile) restore(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.investments = make([]*Investment, 0, len(rec.Holdings))
	for _, h := range rec.Holdings {
		p.investments = append(p.investments, NewInvestment(p.owner, h.Invested, h.Profit))
	}
	p.autoCollect = rec.AutoCollect
}

// Accrual is the outcome of one interest pass over a profile.
type Accrual struct {
	Earned    decimal.Decimal
	Collected decimal.Decimal
	Changed   bool
	Swept     bool
}

// Accrue adds interest at ratePercent to every funded slot. When sweep is set
// and the profile has auto-collect on, all accrued profit (not only this
// pass) is taken in the same critical section.
func (p *Profile) Accrue(ratePercent decimal.Decimal, sweep bool) Accrual {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := Accrual{Earned: decimal.Zero, Collected: decimal.Zero}
	for _, inv := range p.investments {
		interest := InterestOn(inv.Invested(), ratePercent)
		if inv.AddProfit(interest) {
			out.Earned = out.Earned.Add(interest)
			out.Changed = true
		}
	}
	if !out.Changed {
		return out
	}
	if sweep && p.autoCollect {
		out.Collected = p.collectLocked()
		out.Swept = true
	}
	return out
}
