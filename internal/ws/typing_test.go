package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTypingRegistry_ExpiresLazily(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := NewTypingRegistry(clock.Now)

	reg.Signal(1, 10)
	assert.True(t, reg.IsActive(1, 10))
	assert.False(t, reg.IsActive(2, 10), "entries are per conversation")

	clock.Advance(TypingTTL - time.Millisecond)
	assert.True(t, reg.IsActive(1, 10))

	clock.Advance(time.Millisecond)
	assert.False(t, reg.IsActive(1, 10), "inactive at exactly the TTL")
	assert.Empty(t, reg.Active(1))
}

func TestTypingRegistry_SignalRenews(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := NewTypingRegistry(clock.Now)

	reg.Signal(1, 10)
	clock.Advance(4 * time.Second)
	reg.Signal(1, 10)
	clock.Advance(4 * time.Second)
	assert.True(t, reg.IsActive(1, 10))
	assert.Equal(t, []int64{10}, reg.Active(1))
}

func TestTypingRegistry_Clear(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg := NewTypingRegistry(clock.Now)

	assert.False(t, reg.Clear(1, 10), "nothing to clear")

	reg.Signal(1, 10)
	assert.True(t, reg.Clear(1, 10))
	assert.False(t, reg.IsActive(1, 10))

	reg.Signal(1, 10)
	clock.Advance(TypingTTL)
	assert.False(t, reg.Clear(1, 10), "a stale entry was not active")
}
