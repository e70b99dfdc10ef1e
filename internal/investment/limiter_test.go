package investment

import (
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type staticPerms map[uuid.UUID][]string

func (s staticPerms) HasPermission(id uuid.UUID, key string) bool {
	return slices.Contains(s[id], key)
}

func (s staticPerms) EffectivePermissions(id uuid.UUID) []string {
	return s[id]
}

func TestLimiterMaxSlots(t *testing.T) {
	vip := uuid.New()
	plain := uuid.New()
	perms := staticPerms{
		vip:   {"investments.use", "invest.max.basic", "invest.max.vip"},
		plain: {"investments.use"},
	}
	l := NewLimiter(perms, Limits{Slots: map[string]int{"invest.max.basic": 3, "invest.max.vip": 10}})

	assert.Equal(t, 10, l.MaxSlots(vip))
	assert.Equal(t, 0, l.MaxSlots(plain))

	l.Reload(Limits{Slots: map[string]int{"invest.max.basic": 4}})
	assert.Equal(t, 4, l.MaxSlots(vip))
}

func TestLimiterMaxTotal(t *testing.T) {
	rich := uuid.New()
	plain := uuid.New()
	perms := staticPerms{
		rich:  {"invest.maxlimit.500000", "invest.maxlimit.2m", "invest.maxlimit.junk"},
		plain: {"investments.use"},
	}
	l := NewLimiter(perms, Limits{DefaultMaxTotal: dec("100000")})

	assert.True(t, l.MaxTotal(rich).Equal(dec("2000000")))
	assert.True(t, l.MaxTotal(plain).Equal(dec("100000")))

	l.Reload(Limits{DefaultMaxTotal: dec("-1")})
	assert.True(t, l.MaxTotal(plain).IsZero())
}

func TestLimiterCheckInvest(t *testing.T) {
	id := uuid.New()
	perms := staticPerms{id: {"invest.max.basic", "invest.maxlimit.1000"}}
	l := NewLimiter(perms, Limits{Slots: map[string]int{"invest.max.basic": 2}})

	tests := []struct {
		name   string
		count  int
		total  string
		amount string
		want   error
	}{
		{name: "fits", count: 1, total: "400", amount: "600", want: nil},
		{name: "slots full", count: 2, total: "0", amount: "1", want: ErrSlotLimit},
		{name: "over principal cap", count: 0, total: "900", amount: "100.01", want: ErrPrincipalLimit},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := l.CheckInvest(id, tc.count, dec(tc.total), dec(tc.amount))
			assert.ErrorIs(t, err, tc.want)
		})
	}

	unlimited := NewLimiter(staticPerms{}, Limits{})
	assert.NoError(t, unlimited.CheckInvest(id, 500, decimal.New(1, 12), dec("1")))
}
