package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"zchat/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation, creatorID int64, memberIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO conversations (kind, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, string(c.Kind), c.Name).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (user_id, conversation_id, is_admin, joined_at)
		VALUES ($1, $2, $3, NOW())
	`, creatorID, c.ID, c.Kind == domain.ConversationGroup); err != nil {
		return fmt.Errorf("insert creator: %w", err)
	}
	for _, uid := range memberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (user_id, conversation_id, is_admin, joined_at)
			VALUES ($1, $2, FALSE, NOW())
			ON CONFLICT DO NOTHING
		`, uid, c.ID); err != nil {
			return fmt.Errorf("insert participant %d: %w", uid, err)
		}
	}

	return tx.Commit()
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, kind, name, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(&c.ID, &c.Kind, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.kind, c.name, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.updated_at DESC, c.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		if err := rows.Scan(&c.ID, &c.Kind, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// FindExistingPrivate finds a private conversation shared by both users.
func (r *ConversationRepo) FindExistingPrivate(ctx context.Context, userA, userB int64) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT c.id, c.kind, c.name, c.created_at, c.updated_at
		FROM conversations c
		WHERE c.kind = 'private'
		  AND EXISTS (SELECT 1 FROM conversation_participants cp WHERE cp.conversation_id = c.id AND cp.user_id = $1)
		  AND EXISTS (SELECT 1 FROM conversation_participants cp WHERE cp.conversation_id = c.id AND cp.user_id = $2)
		ORDER BY c.id
		LIMIT 1
	`, userA, userB,
	).Scan(&c.ID, &c.Kind, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find existing private: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) MarkAsRead(ctx context.Context, conversationID, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET last_read_at = $3
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID, at)
	if err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}
	return nil
}

func (r *ConversationRepo) AdvanceLastRead(ctx context.Context, conversationID, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET last_read_at = $3
		WHERE conversation_id = $1 AND user_id = $2
		  AND (last_read_at IS NULL OR last_read_at < $3)
	`, conversationID, userID, at)
	if err != nil {
		return fmt.Errorf("advance last_read_at: %w", err)
	}
	return nil
}

func (r *ConversationRepo) GetUnreadCount(ctx context.Context, conversationID, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN conversation_participants cp
		  ON cp.conversation_id = m.conversation_id AND cp.user_id = $2
		WHERE m.conversation_id = $1
		  AND m.sender_id != $2
		  AND (cp.last_read_at IS NULL OR m.created_at > cp.last_read_at)
	`, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
