package ws

import "sync"

// PresenceTracker counts live sessions per user. Only the 0→1 and 1→0
// transitions are reported.
type PresenceTracker struct {
	mu     sync.Mutex
	counts map[int64]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{counts: make(map[int64]int)}
}

// Online registers a session for userID and reports whether the user just came online.
func (p *PresenceTracker) Online(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return p.counts[userID] == 1
}

// Offline unregisters a session and reports whether the user just went offline.
func (p *PresenceTracker) Offline(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.counts[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.counts, userID)
		return true
	}
	p.counts[userID] = n - 1
	return false
}

func (p *PresenceTracker) IsOnline(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}
