package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"zchat/internal/config"
	"zchat/internal/domain"
	"zchat/internal/security"
	"zchat/internal/service"
	"zchat/internal/store/sqlite"
	"zchat/internal/ws"
)

type testServer struct {
	srv *httptest.Server
	hub *ws.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	enc, err := security.NewEncryptor([]byte("http-test-key"), nil)
	require.NoError(t, err)

	users := sqlite.NewUserRepo(db)
	convs := sqlite.NewConversationRepo(db)
	parts := sqlite.NewParticipantRepo(db)
	msgs := sqlite.NewMessageRepo(db)
	reads := sqlite.NewReadStatusRepo(db)

	authSvc := service.NewAuthService(users, security.NewTokenService("http-secret", time.Hour), security.NewPasswordHasher(bcrypt.MinCost))
	msgSvc := service.NewMessageService(convs, parts, msgs, reads, users, enc, 0)
	receipts := ws.NewReconciler(convs, msgs, reads)
	hub := ws.NewHub(ws.Options{}, ws.Deps{
		Auth: authSvc, Members: parts, Presence: users, Messages: msgSvc, Receipts: receipts,
	})

	cfg := &config.Config{AppName: "zchat", CORSOrigins: []string{"http://localhost:3000"}}
	ts := &testServer{hub: hub}
	ts.srv = httptest.NewServer(NewRouter(cfg, Services{
		Auth:          authSvc,
		Users:         service.NewUserService(users),
		Conversations: service.NewConversationService(convs, parts, msgs, users, msgSvc),
		Messages:      msgSvc,
		Receipts:      receipts,
		Hub:           hub,
	}))
	t.Cleanup(ts.srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})
	return ts
}

// do sends body as JSON and decodes the response into out when non-nil.
func (ts *testServer) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type tokenBody struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        domain.User `json:"user"`
}

func (ts *testServer) register(t *testing.T, name string) tokenBody {
	t.Helper()
	var tok tokenBody
	status := ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username": name, "password": "password123",
	}, &tok)
	require.Equal(t, http.StatusCreated, status)
	return tok
}

func TestAuthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.register(t, "alice")
	assert.Equal(t, "bearer", alice.TokenType)
	assert.NotEmpty(t, alice.AccessToken)
	assert.Equal(t, "alice", alice.User.Username)

	var errBody map[string]string
	status := ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{"username": "alice", "password": "password123"}, &errBody)
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, errBody["error"])

	status = ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{"username": "bob", "password": "short"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var login tokenBody
	status = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"username": "alice", "password": "password123"}, &login)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, login.AccessToken)

	status = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"username": "alice", "password": "wrong-pass"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	var me domain.User
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/auth/me", login.AccessToken, nil, &me))
	assert.Equal(t, alice.User.ID, me.ID)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/auth/me", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/auth/me", "garbage", nil, nil))
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/api/auth/logout", login.AccessToken, nil, nil))
}

func TestProfileAndPasswordEndpoints(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username": "bob", "email": "bob@example.com", "password": "password123",
	}, nil))

	t.Run("update email", func(t *testing.T) {
		var body struct {
			Message string      `json:"message"`
			User    domain.User `json:"user"`
		}
		status := ts.do(t, http.MethodPut, "/api/auth/me", alice.AccessToken, map[string]any{"email": " alice@example.com "}, &body)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Profile updated successfully", body.Message)
		require.NotNil(t, body.User.Email)
		assert.Equal(t, "alice@example.com", *body.User.Email)

		var me domain.User
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/auth/me", alice.AccessToken, nil, &me))
		require.NotNil(t, me.Email)
		assert.Equal(t, "alice@example.com", *me.Email)
	})

	t.Run("email rules", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/api/auth/me", alice.AccessToken, map[string]any{"email": "nope"}, nil))
		assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPut, "/api/auth/me", alice.AccessToken, map[string]any{"email": "bob@example.com"}, nil))
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/auth/me", alice.AccessToken, map[string]any{"email": "alice@example.com"}, nil), "own email is not a conflict")
		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPut, "/api/auth/me", "", map[string]any{"email": "x@example.com"}, nil))
	})

	t.Run("change password", func(t *testing.T) {
		change := func(old, next, confirm string) int {
			return ts.do(t, http.MethodPost, "/api/auth/password-change", alice.AccessToken, map[string]any{
				"old_password": old, "new_password": next, "new_password_confirm": confirm,
			}, nil)
		}
		assert.Equal(t, http.StatusBadRequest, change("wrong-pass", "newpassword1", "newpassword1"))
		assert.Equal(t, http.StatusBadRequest, change("password123", "newpassword1", "newpassword2"))
		assert.Equal(t, http.StatusBadRequest, change("password123", "short", "short"))

		var ok map[string]string
		status := ts.do(t, http.MethodPost, "/api/auth/password-change", alice.AccessToken, map[string]any{
			"old_password": "password123", "new_password": "newpassword1", "new_password_confirm": "newpassword1",
		}, &ok)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Password changed successfully", ok["message"])

		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"username": "alice", "password": "password123"}, nil))
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"username": "alice", "password": "newpassword1"}, nil))

		var me domain.User
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/auth/me", alice.AccessToken, nil, &me))
		assert.NotNil(t, me.Email, "changing the password keeps the profile")
	})

	t.Run("check session", func(t *testing.T) {
		var body struct {
			Valid bool        `json:"valid"`
			User  domain.User `json:"user"`
		}
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/auth/check-session", alice.AccessToken, nil, &body))
		assert.True(t, body.Valid)
		assert.Equal(t, alice.User.ID, body.User.ID)
		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/auth/check-session", "garbage", nil, nil))
	})
}

func TestUserEndpoints(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	ts.register(t, "bob")

	var users []domain.User
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/users?limit=1", alice.AccessToken, nil, &users))
	assert.Len(t, users, 1)

	var u domain.User
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", alice.User.ID), alice.AccessToken, nil, &u))
	assert.Equal(t, "alice", u.Username)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/users/999", alice.AccessToken, nil, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/users/abc", alice.AccessToken, nil, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/users?limit=-1", alice.AccessToken, nil, nil))

	var online []domain.User
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/users/online", alice.AccessToken, nil, &online))
	assert.Empty(t, online)
}

func TestConversationAndMessageEndpoints(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")
	eve := ts.register(t, "eve")

	var conv service.ConversationView
	status := ts.do(t, http.MethodPost, "/api/conversations", alice.AccessToken, map[string]any{
		"type": "private", "participant_ids": []int64{bob.User.ID},
	}, &conv)
	require.Equal(t, http.StatusCreated, status)
	assert.Len(t, conv.Participants, 2)
	require.NotNil(t, conv.OtherUser)
	assert.Equal(t, bob.User.ID, conv.OtherUser.ID)

	var again service.ConversationView
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/conversations", bob.AccessToken, map[string]any{
		"type": "private", "participant_ids": []int64{alice.User.ID},
	}, &again))
	assert.Equal(t, conv.ID, again.ID)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/conversations", alice.AccessToken, map[string]any{
		"type": "private", "participant_ids": []int64{4242},
	}, nil))

	convPath := fmt.Sprintf("/api/conversations/%d", conv.ID)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, convPath, eve.AccessToken, nil, nil))

	var msg service.MessageResponse
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, convPath+"/messages", alice.AccessToken, map[string]any{"content": " hi bob "}, &msg))
	assert.Equal(t, "hi bob", msg.Content)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, convPath+"/messages", alice.AccessToken, map[string]any{"content": "  "}, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, convPath+"/messages", eve.AccessToken, map[string]any{"content": "x"}, nil))

	var unread map[string]any
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, convPath+"/unread", bob.AccessToken, nil, &unread))
	assert.Equal(t, float64(1), unread["unread_count"])

	msgPath := fmt.Sprintf("/api/messages/%d", msg.ID)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPut, msgPath, bob.AccessToken, map[string]any{"content": "hijack"}, nil))
	var edited service.MessageResponse
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, msgPath, alice.AccessToken, map[string]any{"content": "hi again"}, &edited))
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)
	assert.Equal(t, "hi again", edited.Content)

	var page []service.MessageResponse
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, convPath+"/messages?limit=10", bob.AccessToken, nil, &page))
	require.Len(t, page, 1)
	assert.False(t, page[0].IsRead)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, convPath+"/read", bob.AccessToken, nil, nil))
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, convPath+"/unread", bob.AccessToken, nil, &unread))
	assert.Equal(t, float64(0), unread["unread_count"])
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, convPath+"/messages", bob.AccessToken, nil, &page))
	require.Len(t, page, 1)
	assert.True(t, page[0].IsRead)

	var list []service.ConversationView
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/conversations", alice.AccessToken, nil, &list))
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "hi again", list[0].LastMessage.Content)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, msgPath, alice.AccessToken, nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, msgPath, alice.AccessToken, nil, nil))

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, convPath, alice.AccessToken, nil, nil))
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, convPath, bob.AccessToken, nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, convPath, bob.AccessToken, nil, nil))
}

func TestCreateMessageReachesLiveSessions(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")

	var conv service.ConversationView
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/conversations", alice.AccessToken, map[string]any{
		"type": "group", "name": "team", "participant_ids": []int64{bob.User.ID},
	}, &conv))

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + fmt.Sprintf("/ws/conversations/%d", conv.ID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {"Bearer " + bob.AccessToken}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ts.hub.Router().Members(conv.ID) == 1 }, 2*time.Second, 5*time.Millisecond)

	path := fmt.Sprintf("/api/conversations/%d/messages", conv.ID)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, path, alice.AccessToken, map[string]any{"content": "from rest"}, nil))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame struct {
			Type    string                  `json:"type"`
			Message service.MessageResponse `json:"message"`
		}
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == "chat_message" {
			assert.Equal(t, "from rest", frame.Message.Content)
			assert.Equal(t, alice.User.ID, frame.Message.Sender.ID)
			return
		}
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]any
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "", nil, &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", domain.ErrInvalidInput), http.StatusBadRequest},
		{domain.ErrEmptyInput, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("%w: expired", domain.ErrAuth), http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrMembership, http.StatusNotFound},
		{domain.ErrConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
