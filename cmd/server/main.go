package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zchat/internal/config"
	"zchat/internal/domain"
	"zchat/internal/httpserver"
	"zchat/internal/logger"
	"zchat/internal/security"
	"zchat/internal/service"
	"zchat/internal/store/postgres"
	"zchat/internal/store/sqlite"
	"zchat/internal/ws"
)

const version = "1.0.0"

type repositories struct {
	users         domain.UserRepository
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
	reads         domain.ReadStatusRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(logger.Config{
		Service: cfg.AppName,
		Version: version,
		Level:   logger.ParseLevel(cfg.LogLevel),
		Env:     logger.ParseEnv(cfg.Env),
		Backend: logger.Backend(cfg.LogBackend),
		Debug:   cfg.Debug,
	})

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	db, repos, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tokenSvc := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())
	passwordHasher := security.NewPasswordHasher(0)
	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey), cfg.LegacyEncryptKeys)
	if err != nil {
		return fmt.Errorf("initialize encryptor: %w", err)
	}

	authSvc := service.NewAuthService(repos.users, tokenSvc, passwordHasher)
	userSvc := service.NewUserService(repos.users)
	msgSvc := service.NewMessageService(repos.conversations, repos.participants, repos.messages, repos.reads, repos.users, encryptor, cfg.MaxMessagesPerConversation)
	convSvc := service.NewConversationService(repos.conversations, repos.participants, repos.messages, repos.users, msgSvc)
	receipts := ws.NewReconciler(repos.conversations, repos.messages, repos.reads)

	hub := ws.NewHub(ws.Options{
		SendBuffer:      cfg.WS.SendBuffer,
		WriteWait:       cfg.WS.WriteWait,
		PongWait:        cfg.WS.PongWait,
		PingPeriod:      cfg.WS.PingPeriod,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		MaxDecodeErrors: cfg.WS.MaxDecodeErrors,
		PersistTimeout:  cfg.WS.PersistTimeout,
		AllowedOrigins:  cfg.CORSOrigins,
	}, ws.Deps{
		Auth:     authSvc,
		Members:  repos.participants,
		Presence: repos.users,
		Messages: msgSvc,
		Receipts: receipts,
	})

	router := httpserver.NewRouter(cfg, httpserver.Services{
		Auth:          authSvc,
		Users:         userSvc,
		Conversations: convSvc,
		Messages:      msgSvc,
		Receipts:      receipts,
		Hub:           hub,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", slog.String("addr", cfg.HTTPAddr()), slog.String("db_driver", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", slog.Any("err", err))
	}
	// Hijacked WebSocket connections are not covered by srv.Shutdown.
	if err := hub.Shutdown(ctx); err != nil {
		log.Error("hub shutdown incomplete", slog.Int("sessions", hub.Sessions()), slog.Any("err", err))
	}
	return nil
}

func openStore(cfg *config.Config) (*sql.DB, *repositories, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return db, &repositories{
			users:         postgres.NewUserRepo(db),
			conversations: postgres.NewConversationRepo(db),
			participants:  postgres.NewParticipantRepo(db),
			messages:      postgres.NewMessageRepo(db),
			reads:         postgres.NewReadStatusRepo(db),
		}, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return db, &repositories{
			users:         sqlite.NewUserRepo(db),
			conversations: sqlite.NewConversationRepo(db),
			participants:  sqlite.NewParticipantRepo(db),
			messages:      sqlite.NewMessageRepo(db),
			reads:         sqlite.NewReadStatusRepo(db),
		}, nil
	}
}
