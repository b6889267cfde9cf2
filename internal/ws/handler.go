package ws

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"zchat/internal/domain"
	"zchat/internal/logger"
)

var errMissingToken = fmt.Errorf("%w: missing bearer token", domain.ErrAuth)

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests whose scheme://host is in allowedOrigins.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[u.Scheme+"://"+u.Host]
		return ok
	}
}

// extractToken reads the bearer token from the Authorization header or from a
// "bearer, <token>" Sec-WebSocket-Protocol pair, which browsers can set.
func extractToken(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token, nil
		}
	}

	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		parts := strings.Split(header, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
	}

	return "", errMissingToken
}

// ServeConversation upgrades GET /ws/conversations/{conversationID}.
// Authentication and membership are checked before the upgrade, so failures
// are plain HTTP 401 and 403 responses.
func (h *Hub) ServeConversation(w http.ResponseWriter, r *http.Request) {
	log := logger.WithRequest(r.Context())

	if !h.upgrader.CheckOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	convID, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	if err != nil || convID <= 0 {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	token, err := extractToken(r)
	if err != nil {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	user, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		log.Debug("ws: authentication failed", slog.Any("err", err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ok, err := h.members.IsParticipant(r.Context(), convID, user.ID)
	if err != nil {
		log.Error("ws: membership check", slog.Any("err", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, domain.ErrMembership.Error(), http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		log.Debug("ws: upgrade failed", slog.Any("err", err))
		return
	}

	s := newSession(user, convID, conn, h.opts, h.log)
	if !h.track(s) {
		s.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.cleanup(s)

	s.start()
	h.join(s)
	h.readLoop(s)
}

func (h *Hub) readLoop(s *Session) {
	conn := s.conn
	conn.SetReadLimit(h.opts.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	decodeErrors := 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws: read ended", slog.Any("err", err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		if err := h.dispatch(s, data); errors.Is(err, domain.ErrProtocol) {
			decodeErrors++
			if decodeErrors >= h.opts.MaxDecodeErrors {
				s.log.Info("ws: too many invalid frames", slog.Int("count", decodeErrors))
				s.Close(websocket.ClosePolicyViolation, "too many invalid frames")
				return
			}
			continue
		}
		decodeErrors = 0
	}
}
