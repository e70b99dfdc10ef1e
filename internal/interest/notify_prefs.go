package interest

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// NotifyPrefs tracks per-account overrides of the default notification
// setting. Overrides live for the process lifetime.
type NotifyPrefs struct {
	defaultOn atomic.Bool
	overrides sync.Map // uuid.UUID -> bool
}

func NewNotifyPrefs(defaultOn bool) *NotifyPrefs {
	n := &NotifyPrefs{}
	n.defaultOn.Store(defaultOn)
	return n
}

func (n *NotifyPrefs) SetDefault(on bool) {
	n.defaultOn.Store(on)
}

func (n *NotifyPrefs) Enabled(account uuid.UUID) bool {
	if v, ok := n.overrides.Load(account); ok {
		return v.(bool)
	}
	return n.defaultOn.Load()
}

// Toggle flips the account's effective setting and returns the new value.
func (n *NotifyPrefs) Toggle(account uuid.UUID) bool {
	for {
		v, ok := n.overrides.Load(account)
		if !ok {
			next := !n.defaultOn.Load()
			if _, loaded := n.overrides.LoadOrStore(account, next); !loaded {
				return next
			}
			continue
		}
		cur := v.(bool)
		if n.overrides.CompareAndSwap(account, cur, !cur) {
			return !cur
		}
	}
}
