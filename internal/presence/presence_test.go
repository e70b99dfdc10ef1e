package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTrackerExpiresAfterTTL(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(time.Minute, c.Now)
	account := uuid.New()

	assert.False(t, tr.Active(account))
	tr.Touch(account)
	assert.True(t, tr.Active(account))
	assert.Equal(t, 1, tr.Online())

	c.Advance(59 * time.Second)
	assert.True(t, tr.Active(account))

	c.Advance(time.Second)
	assert.False(t, tr.Active(account))
	_, stillStored := tr.seen.Load(account)
	assert.False(t, stillStored)

	tr.Touch(account)
	tr.Forget(account)
	assert.False(t, tr.Active(account))
}

func TestPolicyEveryone(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	p := NewPolicy(tr, false)
	account := uuid.New()

	assert.False(t, p.Active(account))
	p.SetEveryone(true)
	assert.True(t, p.Active(account))
	p.SetEveryone(false)
	tr.Touch(account)
	assert.True(t, p.Active(account))
}
