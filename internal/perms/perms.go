package perms

import (
	"sort"
	"strings"
	"sync/atomic"

	"investments/internal/config"

	"github.com/google/uuid"
)

type table struct {
	defaults []string
	accounts map[uuid.UUID][]string
}

// Table resolves permission keys from groups defined in config. Keys ending
// in ".*" grant everything below them and "*" grants everything.
type Table struct {
	t atomic.Pointer[table]
}

func New(cfg config.Permissions) *Table {
	p := &Table{}
	p.Reload(cfg)
	return p
}

// Reload swaps in a freshly expanded table. Unparseable account ids are
// skipped.
func (p *Table) Reload(cfg config.Permissions) {
	groups := make(map[string][]string, len(cfg.Groups))
	for name, keys := range cfg.Groups {
		groups[strings.ToLower(name)] = keys
	}
	expand := func(entries []string) []string {
		set := map[string]struct{}{}
		for _, e := range entries {
			e = strings.ToLower(strings.TrimSpace(e))
			if keys, ok := groups[e]; ok {
				for _, k := range keys {
					set[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
				}
				continue
			}
			if e != "" {
				set[e] = struct{}{}
			}
		}
		out := make([]string, 0, len(set))
		for k := range set {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}

	next := &table{
		defaults: expand(cfg.Default),
		accounts: make(map[uuid.UUID][]string, len(cfg.Accounts)),
	}
	for raw, entries := range cfg.Accounts {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		next.accounts[id] = expand(entries)
	}
	p.t.Store(next)
}

// EffectivePermissions is the sorted union of default and account keys.
func (p *Table) EffectivePermissions(account uuid.UUID) []string {
	t := p.t.Load()
	own := t.accounts[account]
	out := make([]string, 0, len(t.defaults)+len(own))
	out = append(out, t.defaults...)
	for _, k := range own {
		if !contains(t.defaults, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (p *Table) HasPermission(account uuid.UUID, key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return true
	}
	t := p.t.Load()
	return grants(t.defaults, key) || grants(t.accounts[account], key)
}

func grants(held []string, key string) bool {
	for _, h := range held {
		if h == key || h == "*" {
			return true
		}
		if base, ok := strings.CutSuffix(h, ".*"); ok && strings.HasPrefix(key, base+".") {
			return true
		}
	}
	return false
}

func contains(sorted []string, k string) bool {
	i := sort.SearchStrings(sorted, k)
	return i < len(sorted) && sorted[i] == k
}
