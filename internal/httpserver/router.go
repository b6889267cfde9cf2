package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"zchat/internal/config"
	"zchat/internal/service"
	"zchat/internal/ws"
)

// Services bundles what the REST handlers call into.
type Services struct {
	Auth          *service.AuthService
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Receipts      *ws.Reconciler
	Hub           *ws.Hub
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(cfg *config.Config, svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Upgraded connections outlive any request timeout.
	r.Get("/ws/conversations/{conversationID}", svc.Hub.ServeConversation)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"message": cfg.AppName + " API", "version": "1.0.0"})
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "sessions": svc.Hub.Sessions()})
		})

		r.Route("/api", func(r chi.Router) {
			r.Route("/auth", func(r chi.Router) {
				r.Post("/register", handleRegister(svc.Auth))
				r.Post("/login", handleLogin(svc.Auth))
			})

			r.Group(func(r chi.Router) {
				r.Use(AuthMiddleware(svc.Auth))

				r.Post("/auth/logout", handleLogout())
				r.Get("/auth/me", handleMe())
				r.Put("/auth/me", handleUpdateProfile(svc.Auth))
				r.Post("/auth/password-change", handleChangePassword(svc.Auth))
				r.Get("/auth/check-session", handleCheckSession())

				r.Route("/users", func(r chi.Router) {
					r.Get("/", handleListUsers(svc.Users))
					r.Get("/online", handleListOnlineUsers(svc.Users))
					r.Get("/{userID}", handleGetUser(svc.Users))
				})

				r.Route("/conversations", func(r chi.Router) {
					r.Post("/", handleCreateConversation(svc.Conversations))
					r.Get("/", handleListConversations(svc.Conversations))
					r.Get("/{conversationID}", handleGetConversation(svc.Conversations))
					r.Delete("/{conversationID}", handleLeaveConversation(svc.Conversations))
					r.Post("/{conversationID}/read", handleMarkConversationRead(svc.Conversations, svc.Receipts))
					r.Get("/{conversationID}/unread", handleUnreadCount(svc.Conversations, svc.Receipts))
					r.Get("/{conversationID}/messages", handleListMessages(svc.Messages))
					r.Post("/{conversationID}/messages", handleCreateMessage(svc.Messages, svc.Hub))
				})

				r.Route("/messages", func(r chi.Router) {
					r.Put("/{messageID}", handleEditMessage(svc.Messages))
					r.Delete("/{messageID}", handleDeleteMessage(svc.Messages))
				})
			})
		})
	})

	return r
}
