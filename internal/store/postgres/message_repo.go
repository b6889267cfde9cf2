package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"zchat/internal/domain"
)

const messageColumns = `id, conversation_id, sender_id, kind, content, created_at, edited_at, is_edited`

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.Kind == "" {
		m.Kind = domain.MessageText
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, kind, content, created_at, is_edited)
		VALUES ($1, $2, $3, $4, NOW(), FALSE)
		RETURNING id, created_at
	`, m.ConversationID, m.SenderID, string(m.Kind), m.Content,
	).Scan(&m.ID, &m.CreatedAt)
}

func (r *MessageRepo) Append(ctx context.Context, m *domain.Message, keepLimit int) error {
	if m.Kind == "" {
		m.Kind = domain.MessageText
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		id        int64
		createdAt time.Time
	)
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, kind, content, created_at, is_edited)
		VALUES ($1, $2, $3, $4, NOW(), FALSE)
		RETURNING id, created_at
	`, m.ConversationID, m.SenderID, string(m.Kind), m.Content,
	).Scan(&id, &createdAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`, createdAt, m.ConversationID,
	); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if keepLimit > 0 {
		if err := pruneOld(ctx, tx, m.ConversationID, keepLimit); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	m.ID = id
	m.CreatedAt = createdAt
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Content, &m.CreatedAt, &m.EditedAt, &m.IsEdited,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) List(ctx context.Context, conversationID int64, q domain.MessageQuery) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1`
	args := []any{conversationID}
	if q.BeforeID > 0 {
		args = append(args, q.BeforeID)
		query += fmt.Sprintf(` AND id < $%d`, len(args))
	}
	args = append(args, q.Limit, q.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Content, &m.CreatedAt, &m.EditedAt, &m.IsEdited,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *MessageRepo) Last(ctx context.Context, conversationID int64) (*domain.Message, error) {
	msgs, err := r.List(ctx, conversationID, domain.MessageQuery{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

func (r *MessageRepo) Update(ctx context.Context, m *domain.Message) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE messages SET content = $1, is_edited = $2, edited_at = $3 WHERE id = $4
	`, m.Content, m.IsEdited, m.EditedAt, m.ID); err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// pruneOld keeps only the newest keepLimit messages of a conversation.
func pruneOld(ctx context.Context, db execer, conversationID int64, keepLimit int) error {
	if _, err := db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_id = $1
		  AND id NOT IN (
			SELECT id FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		  )
	`, conversationID, keepLimit); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	return nil
}
