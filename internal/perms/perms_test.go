package perms

import (
	"testing"

	"investments/internal/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTableResolvesGroupsAndWildcards(t *testing.T) {
	admin := uuid.New()
	vip := uuid.New()
	nobody := uuid.New()

	p := New(config.Permissions{
		Default: []string{"investments.use"},
		Groups: map[string][]string{
			"Admin": {"investments.admin.*", "investments.autocollect"},
			"vip":   {"investments.max.10", "invest.maxlimit.5m"},
		},
		Accounts: map[string][]string{
			admin.String(): {"admin"},
			vip.String():   {"vip", "investments.autocollect"},
			"not-a-uuid":   {"admin"},
		},
	})

	tests := []struct {
		account uuid.UUID
		key     string
		want    bool
	}{
		{nobody, "investments.use", true},
		{nobody, "investments.autocollect", false},
		{admin, "investments.admin.reload", true},
		{admin, "investments.admin.multiplier", true},
		{admin, "investments.admin", false},
		{vip, "investments.admin.reload", false},
		{vip, "investments.autocollect", true},
		{vip, "INVESTMENTS.MAX.10", true},
		{nobody, "", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, p.HasPermission(tc.account, tc.key), "%s %q", tc.account, tc.key)
	}

	assert.Equal(t,
		[]string{"invest.maxlimit.5m", "investments.autocollect", "investments.max.10", "investments.use"},
		p.EffectivePermissions(vip))
	assert.Equal(t, []string{"investments.use"}, p.EffectivePermissions(nobody))
}

func TestTableStarGrantsEverything(t *testing.T) {
	root := uuid.New()
	p := New(config.Permissions{Accounts: map[string][]string{root.String(): {"*"}}})
	assert.True(t, p.HasPermission(root, "investments.admin.give"))
	assert.False(t, p.HasPermission(uuid.New(), "investments.admin.give"))
}

func TestTableReload(t *testing.T) {
	account := uuid.New()
	p := New(config.Permissions{})
	assert.False(t, p.HasPermission(account, "investments.use"))

	p.Reload(config.Permissions{Accounts: map[string][]string{account.String(): {"investments.use"}}})
	assert.True(t, p.HasPermission(account, "investments.use"))
}
