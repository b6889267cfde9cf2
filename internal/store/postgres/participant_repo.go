package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"zchat/internal/domain"
)

type ParticipantRepo struct {
	db *sql.DB
}

func NewParticipantRepo(db *sql.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

var _ domain.ParticipantRepository = (*ParticipantRepo)(nil)

func (r *ParticipantRepo) ListParticipants(ctx context.Context, conversationID int64) ([]*domain.ConversationParticipant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cp.user_id, cp.conversation_id, cp.is_admin, cp.last_read_at, cp.joined_at,
		       u.id, u.username, u.email, u.hashed_password, u.is_active, u.is_online, u.created_at, u.last_seen
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = $1
		ORDER BY cp.joined_at ASC, u.id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var res []*domain.ConversationParticipant
	for rows.Next() {
		p := &domain.ConversationParticipant{User: &domain.User{}}
		u := p.User
		if err := rows.Scan(
			&p.UserID, &p.ConversationID, &p.IsAdmin, &p.LastReadAt, &p.JoinedAt,
			&u.ID, &u.Username, &u.Email, &u.HashedPassword, &u.IsActive, &u.IsOnline, &u.CreatedAt, &u.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r *ParticipantRepo) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("is participant: %w", err)
	}
	return exists, nil
}

func (r *ParticipantRepo) Remove(ctx context.Context, conversationID, userID int64) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("remove participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, domain.ErrNotFound
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = $1
	`, conversationID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return remaining, nil
}
