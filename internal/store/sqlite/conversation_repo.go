package sqlite

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

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (kind, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, string(c.Kind), c.Name, now, now)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (user_id, conversation_id, is_admin, joined_at)
		VALUES (?, ?, ?, ?)
	`, creatorID, id, c.Kind == domain.ConversationGroup, now); err != nil {
		return fmt.Errorf("insert creator: %w", err)
	}
	for _, uid := range memberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_participants (user_id, conversation_id, is_admin, joined_at)
			VALUES (?, ?, 0, ?)
		`, uid, id, now); err != nil {
			return fmt.Errorf("insert participant %d: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, kind, name, created_at, updated_at
		FROM conversations
		WHERE id = ?
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
		WHERE cp.user_id = ?
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

func (r *ConversationRepo) FindExistingPrivate(ctx context.Context, userA, userB int64) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT c.id, c.kind, c.name, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp1 ON cp1.conversation_id = c.id AND cp1.user_id = ?
		JOIN conversation_participants cp2 ON cp2.conversation_id = c.id AND cp2.user_id = ?
		WHERE c.kind = 'private'
		ORDER BY c.id
		LIMIT 1
	`, userA, userB).Scan(&c.ID, &c.Kind, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find private conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) MarkAsRead(ctx context.Context, conversationID, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET last_read_at = ?
		WHERE conversation_id = ? AND user_id = ?
	`, at.UTC(), conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}
	return nil
}

func (r *ConversationRepo) AdvanceLastRead(ctx context.Context, conversationID, userID int64, at time.Time) error {
	at = at.UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET last_read_at = ?
		WHERE conversation_id = ? AND user_id = ?
		  AND (last_read_at IS NULL OR last_read_at < ?)
	`, at, conversationID, userID, at)
	if err != nil {
		return fmt.Errorf("advance last_read_at: %w", err)
	}
	return nil
}

func (r *ConversationRepo) GetUnreadCount(ctx context.Context, conversationID, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversation_participants cp
		  ON cp.conversation_id = m.conversation_id AND cp.user_id = ?
		WHERE m.conversation_id = ?
		  AND m.sender_id <> ?
		  AND (cp.last_read_at IS NULL OR m.created_at > cp.last_read_at)
	`, userID, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
