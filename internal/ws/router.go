package ws

import "sync"

// Publisher delivers an encoded event to the sessions joined to a conversation.
// Router is the in-process implementation; a cross-process backplane would
// implement the same method.
type Publisher interface {
	Publish(conversationID int64, payload []byte, exclude *Session)
}

type group struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// Router maps conversation ids to their joined sessions. Each conversation has
// its own lock; r.mu only guards the map of groups.
type Router struct {
	mu     sync.Mutex
	groups map[int64]*group
}

func NewRouter() *Router {
	return &Router{groups: make(map[int64]*group)}
}

var _ Publisher = (*Router)(nil)

func (r *Router) lookup(conversationID int64, create bool) *group {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.groups[conversationID]
	if g == nil && create {
		g = &group{sessions: make(map[*Session]struct{})}
		r.groups[conversationID] = g
	}
	return g
}

func (r *Router) drop(conversationID int64, g *group) {
	r.mu.Lock()
	if r.groups[conversationID] == g {
		delete(r.groups, conversationID)
	}
	r.mu.Unlock()
}

func (r *Router) Join(conversationID int64, s *Session) {
	for {
		g := r.lookup(conversationID, true)
		g.mu.Lock()
		if g.closed {
			// lost a race with the last Leave; the group is being dropped
			g.mu.Unlock()
			r.drop(conversationID, g)
			continue
		}
		g.sessions[s] = struct{}{}
		g.mu.Unlock()
		return
	}
}

func (r *Router) Leave(conversationID int64, s *Session) {
	g := r.lookup(conversationID, false)
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.sessions, s)
	empty := len(g.sessions) == 0
	if empty {
		g.closed = true
	}
	g.mu.Unlock()
	if empty {
		r.drop(conversationID, g)
	}
}

// Broadcast delivers payload to a snapshot of the conversation's sessions,
// skipping exclude. Delivery happens outside the group lock and never blocks.
func (r *Router) Broadcast(conversationID int64, payload []byte, exclude *Session) int {
	if payload == nil {
		return 0
	}
	g := r.lookup(conversationID, false)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	targets := make([]*Session, 0, len(g.sessions))
	for s := range g.sessions {
		if s != exclude {
			targets = append(targets, s)
		}
	}
	g.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(payload) {
			delivered++
		}
	}
	return delivered
}

func (r *Router) Publish(conversationID int64, payload []byte, exclude *Session) {
	r.Broadcast(conversationID, payload, exclude)
}

// Members reports how many sessions are joined to the conversation.
func (r *Router) Members(conversationID int64) int {
	g := r.lookup(conversationID, false)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Conversations reports how many conversations have at least one session.
func (r *Router) Conversations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}
