package ws

import (
	"sync"
	"time"
)

// TypingTTL is how long a typing signal stays active without renewal.
const TypingTTL = 5 * time.Second

type typingKey struct {
	conversationID int64
	userID         int64
}

// TypingRegistry tracks who is typing where. Expiry is evaluated lazily on
// read; there is no background sweep.
type TypingRegistry struct {
	entries sync.Map // typingKey -> time.Time
	now     func() time.Time
}

func NewTypingRegistry(now func() time.Time) *TypingRegistry {
	if now == nil {
		now = time.Now
	}
	return &TypingRegistry{now: now}
}

func (t *TypingRegistry) Signal(conversationID, userID int64) {
	t.entries.Store(typingKey{conversationID, userID}, t.now())
}

// Clear removes the entry and reports whether it was still active.
func (t *TypingRegistry) Clear(conversationID, userID int64) bool {
	v, ok := t.entries.LoadAndDelete(typingKey{conversationID, userID})
	if !ok {
		return false
	}
	return t.fresh(v.(time.Time))
}

func (t *TypingRegistry) IsActive(conversationID, userID int64) bool {
	v, ok := t.entries.Load(typingKey{conversationID, userID})
	if !ok {
		return false
	}
	return t.fresh(v.(time.Time))
}

// Active lists the users currently typing in a conversation.
func (t *TypingRegistry) Active(conversationID int64) []int64 {
	var ids []int64
	t.entries.Range(func(k, v any) bool {
		key := k.(typingKey)
		if key.conversationID == conversationID && t.fresh(v.(time.Time)) {
			ids = append(ids, key.userID)
		}
		return true
	})
	return ids
}

func (t *TypingRegistry) fresh(at time.Time) bool {
	return t.now().Sub(at) < TypingTTL
}
