package investment

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxLimitPrefix namespaces permissions of the form invest.maxlimit.<amount>.
const MaxLimitPrefix = "invest.maxlimit."

type PermissionSource interface {
	HasPermission(account uuid.UUID, key string) bool
	EffectivePermissions(account uuid.UUID) []string
}

// Limits is the reloadable rule set: permission key -> slot count, plus the
// principal cap used when no invest.maxlimit.* permission applies.
// Zero means unlimited in both cases.
type Limits struct {
	Slots           map[string]int
	DefaultMaxTotal decimal.Decimal
}

type slotRule struct {
	permission string
	limit      int
}

type limitTable struct {
	slots           []slotRule
	defaultMaxTotal decimal.Decimal
}

type Limiter struct {
	perms PermissionSource
	table atomic.Pointer[limitTable]
}

func NewLimiter(perms PermissionSource, limits Limits) *Limiter {
	l := &Limiter{perms: perms}
	l.Reload(limits)
	return l
}

// Reload swaps the whole table at once.
func (l *Limiter) Reload(limits Limits) {
	t := &limitTable{defaultMaxTotal: decimal.Zero}
	if limits.DefaultMaxTotal.IsPositive() {
		t.defaultMaxTotal = limits.DefaultMaxTotal
	}
	for perm, limit := range limits.Slots {
		t.slots = append(t.slots, slotRule{permission: perm, limit: limit})
	}
	sort.Slice(t.slots, func(i, j int) bool { return t.slots[i].permission < t.slots[j].permission })
	l.table.Store(t)
}

// MaxSlots is the highest slot limit among the account's permissions.
func (l *Limiter) MaxSlots(account uuid.UUID) int {
	t := l.table.Load()
	best := 0
	for _, rule := range t.slots {
		if rule.limit > best && l.perms.HasPermission(account, rule.permission) {
			best = rule.limit
		}
	}
	return best
}

// MaxTotal is the highest invest.maxlimit.<amount> the account holds, else
// the configured default.
func (l *Limiter) MaxTotal(account uuid.UUID) decimal.Decimal {
	t := l.table.Load()
	best := decimal.Zero
	for _, perm := range l.perms.EffectivePermissions(account) {
		raw, ok := strings.CutPrefix(strings.ToLower(perm), MaxLimitPrefix)
		if !ok {
			continue
		}
		v, err := ParseAmount(raw)
		if err != nil {
			continue
		}
		if v.GreaterThan(best) {
			best = v
		}
	}
	if best.IsPositive() {
		return best
	}
	return t.defaultMaxTotal
}

// CheckInvest reports whether a new slot of amount fits the account's limits
// given its current slot count and total principal.
func (l *Limiter) CheckInvest(account uuid.UUID, count int, total, amount decimal.Decimal) error {
	if slots := l.MaxSlots(account); slots > 0 && count >= slots {
		return ErrSlotLimit
	}
	if ceiling := l.MaxTotal(account); ceiling.IsPositive() && total.Add(amount).GreaterThan(ceiling) {
		return ErrPrincipalLimit
	}
	return nil
}
