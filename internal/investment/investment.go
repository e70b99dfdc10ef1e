package investment

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Investment is one principal/profit slot. It carries no lock of its own:
// every access goes through the owning Profile.
type Investment struct {
	owner    uuid.UUID
	invested decimal.Decimal
	profit   decimal.Decimal
}

func NewInvestment(owner uuid.UUID, invested, profit decimal.Decimal) *Investment {
	inv := &Investment{owner: owner}
	if invested.IsPositive() {
		inv.invested = invested
	}
	if profit.IsPositive() {
		inv.profit = profit
	}
	return inv
}

func (i *Investment) Owner() uuid.UUID          { return i.owner }
func (i *Investment) Invested() decimal.Decimal { return i.invested }
func (i *Investment) Profit() decimal.Decimal   { return i.profit }

// AddInvested is a deposit into the principal; non-positive amounts are ignored.
func (i *Investment) AddInvested(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	i.invested = i.invested.Add(amount)
	return true
}

func (i *Investment) AddProfit(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	i.profit = i.profit.Add(amount)
	return true
}

// TakeProfit returns the accrued profit and resets it to zero.
func (i *Investment) TakeProfit() decimal.Decimal {
	taken := i.profit
	i.profit = decimal.Zero
	return taken
}

// Holding is the persisted shape of an Investment.
type Holding struct {
	Invested decimal.Decimal `json:"invested"`
	Profit   decimal.Decimal `json:"profit"`
}

// Record is everything a Gateway stores for one account.
type Record struct {
	Holdings    []Holding `json:"investments"`
	AutoCollect bool      `json:"auto_collect"`
}
