package economy

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Wallets is the balance store investments are paid from and into.
type Wallets interface {
	Balance(ctx context.Context, account uuid.UUID) (decimal.Decimal, error)
	Credit(ctx context.Context, account uuid.UUID, amount decimal.Decimal) error
	Debit(ctx context.Context, account uuid.UUID, amount decimal.Decimal) error
}

// Memory holds balances in process. Accounts seen for the first time start
// with the configured balance.
type Memory struct {
	mu       sync.Mutex
	starting decimal.Decimal
	balances map[uuid.UUID]decimal.Decimal
}

func NewMemory(starting decimal.Decimal) *Memory {
	if starting.IsNegative() {
		starting = decimal.Zero
	}
	return &Memory{starting: starting, balances: make(map[uuid.UUID]decimal.Decimal)}
}

func (m *Memory) balanceLocked(account uuid.UUID) decimal.Decimal {
	b, ok := m.balances[account]
	if !ok {
		b = m.starting
		m.balances[account] = b
	}
	return b
}

func (m *Memory) Balance(_ context.Context, account uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(account), nil
}

func (m *Memory) Credit(_ context.Context, account uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = m.balanceLocked(account).Add(amount)
	return nil
}

func (m *Memory) Debit(_ context.Context, account uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balanceLocked(account)
	if b.LessThan(amount) {
		return ErrInsufficientFunds
	}
	m.balances[account] = b.Sub(amount)
	return nil
}
