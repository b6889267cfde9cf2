package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zchat/internal/domain"
	"zchat/internal/logger"
)

// Options tunes sessions and the reader loop.
type Options struct {
	SendBuffer      int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxMessageBytes int64
	MaxDecodeErrors int
	PersistTimeout  time.Duration
	AllowedOrigins  []string
}

func (o *Options) setDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.MaxDecodeErrors <= 0 {
		o.MaxDecodeErrors = 10
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
}

// Authenticator resolves a bearer token to a user. Failures wrap domain.ErrAuth.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// MembershipChecker reports whether a user belongs to a conversation.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

// PresenceStore mirrors presence transitions to the user record.
type PresenceStore interface {
	SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error
}

type Deps struct {
	Auth     Authenticator
	Members  MembershipChecker
	Presence PresenceStore
	Messages MessageCreator
	Receipts *Reconciler
	// Publisher defaults to the hub's own Router.
	Publisher Publisher
	// Now drives typing expiry; defaults to time.Now.
	Now func() time.Time
}

// Hub owns every live session and the ephemeral state derived from them.
type Hub struct {
	opts     Options
	router   *Router
	pub      Publisher
	typing   *TypingRegistry
	presence *PresenceTracker
	ingest   *Ingest
	receipts *Reconciler

	auth     Authenticator
	members  MembershipChecker
	users    PresenceStore
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup

	log *slog.Logger
}

func NewHub(opts Options, deps Deps) *Hub {
	opts.setDefaults()
	h := &Hub{
		opts:     opts,
		router:   NewRouter(),
		typing:   NewTypingRegistry(deps.Now),
		presence: NewPresenceTracker(),
		receipts: deps.Receipts,
		auth:     deps.Auth,
		members:  deps.Members,
		users:    deps.Presence,
		sessions: make(map[*Session]struct{}),
		log:      logger.L().With(slog.String("component", "hub")),
	}
	h.pub = deps.Publisher
	if h.pub == nil {
		h.pub = h.router
	}
	h.ingest = NewIngest(deps.Messages, h.pub, opts.PersistTimeout)

	checkOrigin := makeCheckOrigin(opts.AllowedOrigins)
	h.upgrader = websocket.Upgrader{
		CheckOrigin:  checkOrigin,
		Subprotocols: []string{"bearer"},
	}
	return h
}

func (h *Hub) Router() *Router { return h.router }

func (h *Hub) Typing() *TypingRegistry { return h.typing }

func (h *Hub) Presence() *PresenceTracker { return h.presence }

func (h *Hub) broadcast(convID int64, v any, exclude *Session) {
	h.pub.Publish(convID, encode(v), exclude)
}

// PublishMessage broadcasts a message created outside a session, e.g. over REST.
func (h *Hub) PublishMessage(ctx context.Context, convID int64, m *domain.Message) error {
	resp, err := h.ingest.messages.ToResponse(ctx, m)
	if err != nil {
		return err
	}
	h.broadcast(convID, chatMessageEvent{Type: eventChatMessage, Message: resp}, nil)
	return nil
}

// track registers a session for shutdown. It fails once the hub is closed.
func (h *Hub) track(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()
	if ok {
		h.wg.Done()
	}
}

// join moves an authenticated session into its conversation and announces
// the user if this is their first live session.
func (h *Hub) join(s *Session) {
	h.router.Join(s.ConversationID, s)
	s.setState(StateJoined)

	if h.presence.Online(s.User.ID) {
		h.mirrorPresence(s.User.ID, true)
		h.broadcast(s.ConversationID, userStatusEvent{
			Type: eventUserStatus, UserID: s.User.ID, Username: s.User.Username, Status: statusOnline,
		}, nil)
	}
	s.log.Info("ws: session joined", slog.Int("members", h.router.Members(s.ConversationID)))
}

// cleanup runs exactly once per session, on every exit path.
func (h *Hub) cleanup(s *Session) {
	s.cleanupOnce.Do(func() {
		joined := s.State() == StateJoined
		s.setState(StateClosed)

		if joined {
			h.router.Leave(s.ConversationID, s)

			if h.typing.Clear(s.ConversationID, s.User.ID) {
				h.broadcast(s.ConversationID, typingEvent{
					Type: eventTyping, UserID: s.User.ID, Username: s.User.Username, IsTyping: false,
				}, s)
			}

			if h.presence.Offline(s.User.ID) {
				h.mirrorPresence(s.User.ID, false)
				h.broadcast(s.ConversationID, userStatusEvent{
					Type: eventUserStatus, UserID: s.User.ID, Username: s.User.Username, Status: statusOffline,
				}, nil)
			}
		}

		s.Close(websocket.CloseNormalClosure, "")
		h.untrack(s)
		s.log.Info("ws: session closed")
	})
}

func (h *Hub) mirrorPresence(userID int64, online bool) {
	if h.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.PersistTimeout)
	defer cancel()
	if err := h.users.SetOnlineStatus(ctx, userID, online); err != nil {
		h.log.Error("ws: mirror presence", slog.Int64("user_id", userID), slog.Any("err", err))
	}
}

// dispatch handles one inbound frame. It returns an error wrapping
// domain.ErrProtocol for malformed frames; other failures are reported to the
// client and logged here.
func (h *Hub) dispatch(s *Session, data []byte) error {
	if s.State() != StateJoined {
		return nil
	}

	var head frameHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return h.protocolError(s, msgInvalidJSON, err)
	}

	switch head.Type {
	case frameChatMessage:
		var f chatMessageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return h.protocolError(s, invalidPayload(head.Type), err)
		}
		if err := h.ingest.Handle(s, f.Content); err != nil && !errors.Is(err, domain.ErrEmptyInput) {
			s.log.Error("ws: ingest failed", slog.Any("err", err))
		}

	case frameTyping:
		var f typingFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return h.protocolError(s, invalidPayload(head.Type), err)
		}
		if f.IsTyping {
			h.typing.Signal(s.ConversationID, s.User.ID)
		} else {
			h.typing.Clear(s.ConversationID, s.User.ID)
		}
		h.broadcast(s.ConversationID, typingEvent{
			Type: eventTyping, UserID: s.User.ID, Username: s.User.Username, IsTyping: f.IsTyping,
		}, s)

	case frameReadReceipt:
		var f readReceiptFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return h.protocolError(s, invalidPayload(head.Type), err)
		}
		if f.MessageID <= 0 {
			// a receipt without a target is dropped silently
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.PersistTimeout)
		_, err := h.receipts.MarkRead(ctx, s.ConversationID, s.User.ID, f.MessageID)
		cancel()
		if err != nil {
			s.Send(errorFrame(msgReadFailed))
			s.log.Error("ws: mark read failed", slog.Int64("message_id", f.MessageID), slog.Any("err", err))
		}

	default:
		return h.protocolError(s, msgUnknownType, nil)
	}
	return nil
}

func (h *Hub) protocolError(s *Session, msg string, cause error) error {
	s.Send(errorFrame(msg))
	s.log.Debug("ws: protocol error", slog.String("reason", msg), slog.Any("err", cause))
	if cause != nil {
		return errors.Join(domain.ErrProtocol, cause)
	}
	return domain.ErrProtocol
}

// Sessions reports the number of live sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close refuses new sessions and closes live ones with 1001. Each session's
// cleanup then runs on its own handler goroutine.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	live := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		s.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

// Shutdown calls Close and waits for every session's cleanup to finish or
// ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.Close()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
