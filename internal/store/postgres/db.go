package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL PRIMARY KEY,
			username         VARCHAR(50)  UNIQUE NOT NULL,
			email            VARCHAR(100) UNIQUE,
			hashed_password  VARCHAR(255) NOT NULL,
			is_active        BOOLEAN      NOT NULL DEFAULT TRUE,
			is_online        BOOLEAN      NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_seen        TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id         BIGSERIAL    PRIMARY KEY,
			kind       VARCHAR(10)  NOT NULL DEFAULT 'private',
			name       VARCHAR(255),
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_participants (
			user_id         BIGINT       NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			conversation_id BIGINT       NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			is_admin        BOOLEAN      NOT NULL DEFAULT FALSE,
			last_read_at    TIMESTAMPTZ,
			joined_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, conversation_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL    PRIMARY KEY,
			conversation_id BIGINT       NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_id       BIGINT       NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			kind            VARCHAR(10)  NOT NULL DEFAULT 'text',
			content         TEXT         NOT NULL,
			created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			edited_at       TIMESTAMPTZ,
			is_edited       BOOLEAN      NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS message_read_status (
			message_id BIGINT      NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id    BIGINT      NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			read_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_kind_updated ON conversations(kind, updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_conv_participants_conv ON conversation_participants(conversation_id, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_created ON messages(sender_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_read_status_user ON message_read_status(user_id, read_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
