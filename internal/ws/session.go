package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"zchat/internal/domain"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live WebSocket connection attached to a single conversation.
// Outbound frames go through a bounded buffer drained by writeLoop.
type Session struct {
	ID             string
	User           *domain.User
	ConversationID int64

	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	state atomic.Int32

	closeOnce   sync.Once
	cleanupOnce sync.Once

	writeWait  time.Duration
	pingPeriod time.Duration
	log        *slog.Logger
}

func newSession(user *domain.User, conversationID int64, conn *websocket.Conn, opts Options, log *slog.Logger) *Session {
	s := &Session{
		ID:             uuid.NewString(),
		User:           user,
		ConversationID: conversationID,
		conn:           conn,
		send:           make(chan []byte, opts.SendBuffer),
		done:           make(chan struct{}),
		writeWait:      opts.WriteWait,
		pingPeriod:     opts.PingPeriod,
	}
	s.log = log.With(
		slog.String("session_id", s.ID),
		slog.Int64("user_id", user.ID),
		slog.Int64("conversation_id", conversationID),
	)
	s.setState(StateAuthenticated)
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Done is closed once the session starts closing.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send enqueues payload without blocking. A full buffer closes the session
// and reports false, as does sending on a closed session.
func (s *Session) Send(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- payload:
		return true
	default:
		s.log.Warn("ws: send buffer full, closing session")
		go s.Close(websocket.CloseGoingAway, "send buffer full")
		return false
	}
}

// Close sends a close frame with code and tears down the connection. Safe to
// call more than once and from any goroutine.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn == nil {
			return
		}
		deadline := time.Now().Add(s.writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.conn.Close()
	})
}

func (s *Session) start() {
	go s.writeLoop()
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.log.Debug("ws: write failed", slog.Any("err", err))
				s.Close(websocket.CloseGoingAway, "")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseGoingAway, "")
				return
			}
		}
	}
}

func (s *Session) write(kind int, payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(kind, payload)
}
