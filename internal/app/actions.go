package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"investments/internal/interest"
	"investments/internal/investment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PermUse             = "investments.use"
	PermAdminReload     = "investments.admin.reload"
	PermAdminDelete     = "investments.admin.delete"
	PermAdminMultiplier = "investments.admin.multiplier"
	PermAdminView       = "investments.admin.view"
	PermAdminGive       = "investments.admin.give"
)

var (
	ErrForbidden         = errors.New("permission denied")
	ErrConfirmRequired   = errors.New("deleting investments must be confirmed")
	ErrInvalidMultiplier = errors.New("multiplier must be > 0 and minutes must be > 0")
	ErrUnknownAccount    = errors.New("account must be a uuid or \"all\"")
)

// ProfileView is everything a player or admin sees about one account.
type ProfileView struct {
	Account         uuid.UUID            `json:"account"`
	Investments     []investment.Holding `json:"investments"`
	Count           int                  `json:"count"`
	MaxSlots        int                  `json:"max_slots"`
	TotalInvested   decimal.Decimal      `json:"total_invested"`
	MaxTotal        decimal.Decimal      `json:"max_total"`
	TotalProfit     decimal.Decimal      `json:"total_profit"`
	AutoCollect     bool                 `json:"auto_collect"`
	Notifications   bool                 `json:"notifications"`
	Multiplier      decimal.Decimal      `json:"multiplier"`
	RatePercent     decimal.Decimal      `json:"rate_percent"`
	Projected       decimal.Decimal      `json:"projected_per_interval"`
	IntervalMinutes int                  `json:"interval_minutes"`
	Balance         decimal.Decimal      `json:"balance"`
	Active          bool                 `json:"active"`
}

func (a *App) View(ctx context.Context, account uuid.UUID) ProfileView {
	cfg := a.Config()
	p := a.Manager.Get(ctx, account)
	total := p.TotalInvested()

	balance, err := a.Wallets.Balance(ctx, account)
	if err != nil {
		a.log.Warn("balance lookup failed", "account", account, "err", err)
		balance = decimal.Zero
	}
	return ProfileView{
		Account:         account,
		Investments:     p.Investments(),
		Count:           p.Count(),
		MaxSlots:        a.Limiter.MaxSlots(account),
		TotalInvested:   total,
		MaxTotal:        a.Limiter.MaxTotal(account),
		TotalProfit:     p.TotalProfit(),
		AutoCollect:     p.AutoCollect(),
		Notifications:   a.Interest.Prefs().Enabled(account),
		Multiplier:      a.Interest.Multipliers().Effective(account),
		RatePercent:     a.Interest.EffectiveRate(account),
		Projected:       a.Interest.InterestFor(account, total),
		IntervalMinutes: cfg.Interest.IntervalMinutes,
		Balance:         balance,
		Active:          a.Activity.Active(account),
	}
}

// ResolveAmount accepts a preset name from pre-selected-investments or
// anything ParseAmount does.
func (a *App) ResolveAmount(input string) (decimal.Decimal, error) {
	name := strings.ToLower(strings.TrimSpace(input))
	for k, v := range a.Config().Presets {
		if strings.ToLower(k) == name && v.IsPositive() {
			return v, nil
		}
	}
	return investment.ParseAmount(input)
}

// Invest opens a new slot paid from the account's wallet. Limits are checked
// before the debit and nothing is added when the debit fails. Two concurrent
// invests for one account may both pass the limit check.
func (a *App) Invest(ctx context.Context, account uuid.UUID, input string) (decimal.Decimal, error) {
	amount, err := a.ResolveAmount(input)
	if err != nil {
		return decimal.Zero, err
	}
	if minimum := a.Config().MinInvest; minimum.IsPositive() && amount.LessThan(minimum) {
		return decimal.Zero, fmt.Errorf("%w: minimum is %s", investment.ErrBelowMinimum, minimum)
	}

	p := a.Manager.Get(ctx, account)
	if err := a.Limiter.CheckInvest(account, p.Count(), p.TotalInvested(), amount); err != nil {
		return decimal.Zero, err
	}
	if err := a.Wallets.Debit(ctx, account, amount); err != nil {
		return decimal.Zero, fmt.Errorf("debit %s: %w", amount, err)
	}
	if _, err := a.Manager.AddInvestment(ctx, account, amount); err != nil {
		a.log.Warn("investment added but not persisted", "account", account, "amount", amount.String(), "err", err)
	}
	return amount, nil
}

// Collect pays all accrued profit into the wallet. If the credit fails the
// profit goes back on the profile.
func (a *App) Collect(ctx context.Context, account uuid.UUID) (decimal.Decimal, error) {
	amount, _ := a.Manager.CollectProfit(ctx, account)
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	if err := a.Wallets.Credit(ctx, account, amount); err != nil {
		p := a.Manager.Get(ctx, account)
		if !p.ReturnProfit(amount) {
			a.log.Error("collected profit lost, no investment to return it to", "account", account, "amount", amount.String())
		}
		_ = a.Manager.Save(ctx, p)
		return decimal.Zero, fmt.Errorf("credit %s: %w", amount, err)
	}
	return amount, nil
}

func (a *App) ToggleAutoCollect(ctx context.Context, account uuid.UUID) (bool, error) {
	if !a.Perms.HasPermission(account, a.Config().AutoCollect.Permission) {
		return false, ErrForbidden
	}
	return a.Manager.ToggleAutoCollect(ctx, account)
}

func (a *App) ToggleNotifications(account uuid.UUID) bool {
	return a.Interest.Prefs().Toggle(account)
}

// DeleteInvestments drops every slot the account owns. Principal is not
// refunded.
func (a *App) DeleteInvestments(ctx context.Context, account uuid.UUID, confirm bool) (int, error) {
	if !confirm {
		return 0, ErrConfirmRequired
	}
	if a.Manager.Get(ctx, account).Count() == 0 {
		return 0, investment.ErrNoInvestments
	}
	return a.Manager.DeleteInvestments(ctx, account)
}

// Give adds an investment without touching the wallet.
func (a *App) Give(ctx context.Context, account uuid.UUID, input string) (decimal.Decimal, error) {
	amount, err := investment.ParseAmount(input)
	if err != nil {
		return decimal.Zero, err
	}
	if _, err := a.Manager.AddInvestment(ctx, account, amount); err != nil && errors.Is(err, investment.ErrInvalidAmount) {
		return decimal.Zero, err
	}
	return amount, nil
}

// SetMultiplier boosts target, either "all" or an account uuid.
func (a *App) SetMultiplier(target, factor string, minutes int) (interest.Multiplier, error) {
	f, err := decimal.NewFromString(strings.TrimSpace(factor))
	if err != nil || !f.IsPositive() || minutes <= 0 {
		return interest.Multiplier{}, ErrInvalidMultiplier
	}
	if strings.EqualFold(strings.TrimSpace(target), "all") {
		m := a.Interest.Multipliers().SetGlobal(f, minutes)
		a.log.Info("global multiplier set", "factor", f.String(), "expires_at", m.ExpiresAt)
		return m, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(target))
	if err != nil {
		return interest.Multiplier{}, ErrUnknownAccount
	}
	m := a.Interest.Multipliers().SetForAccount(id, f, minutes)
	a.log.Info("account multiplier set", "account", id, "factor", f.String(), "expires_at", m.ExpiresAt)
	return m, nil
}
