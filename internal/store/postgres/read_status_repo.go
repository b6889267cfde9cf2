package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"zchat/internal/domain"
)

type ReadStatusRepo struct {
	db *sql.DB
}

func NewReadStatusRepo(db *sql.DB) *ReadStatusRepo {
	return &ReadStatusRepo{db: db}
}

var _ domain.ReadStatusRepository = (*ReadStatusRepo)(nil)

func (r *ReadStatusRepo) Upsert(ctx context.Context, messageID, userID int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO message_read_status (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, messageID, userID, at)
	if err != nil {
		return false, fmt.Errorf("upsert read status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *ReadStatusRepo) MarkConversation(ctx context.Context, conversationID, userID int64, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO message_read_status (message_id, user_id, read_at)
		SELECT m.id, $1, $2
		FROM messages m
		WHERE m.conversation_id = $3 AND m.sender_id <> $1
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, userID, at, conversationID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return res.RowsAffected()
}

func (r *ReadStatusRepo) ReadSet(ctx context.Context, userID int64, messageIDs []int64) (map[int64]bool, error) {
	set := make(map[int64]bool, len(messageIDs))
	if len(messageIDs) == 0 {
		return set, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id FROM message_read_status
		WHERE user_id = $1 AND message_id = ANY($2::bigint[])
	`, userID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("read set: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan read status: %w", err)
		}
		set[id] = true
	}
	return set, rows.Err()
}
