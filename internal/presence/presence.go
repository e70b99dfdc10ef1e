package presence

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Tracker remembers when each account last checked in. An account is active
// until ttl has passed since its last Touch; stale entries are dropped when
// read.
type Tracker struct {
	ttl  time.Duration
	now  func() time.Time
	seen sync.Map // uuid.UUID -> time.Time
}

func NewTracker(ttl time.Duration, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{ttl: ttl, now: now}
}

func (t *Tracker) Touch(account uuid.UUID) {
	t.seen.Store(account, t.now())
}

func (t *Tracker) Forget(account uuid.UUID) {
	t.seen.Delete(account)
}

func (t *Tracker) Active(account uuid.UUID) bool {
	v, ok := t.seen.Load(account)
	if !ok {
		return false
	}
	if t.now().Sub(v.(time.Time)) < t.ttl {
		return true
	}
	t.seen.CompareAndDelete(account, v)
	return false
}

// Online counts accounts that are currently active.
func (t *Tracker) Online() int {
	n := 0
	t.seen.Range(func(k, _ any) bool {
		if t.Active(k.(uuid.UUID)) {
			n++
		}
		return true
	})
	return n
}

// Policy is the activity predicate handed to the scheduler. With Everyone
// set every account counts as active, which is how offline accrual works.
type Policy struct {
	tracker  *Tracker
	everyone atomic.Bool
}

func NewPolicy(tracker *Tracker, everyone bool) *Policy {
	p := &Policy{tracker: tracker}
	p.everyone.Store(everyone)
	return p
}

func (p *Policy) SetEveryone(on bool) {
	p.everyone.Store(on)
}

func (p *Policy) Active(account uuid.UUID) bool {
	if p.everyone.Load() {
		return true
	}
	return p.tracker.Active(account)
}
