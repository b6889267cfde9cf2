package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"zchat/internal/domain"
)

const userColumns = `id, username, email, hashed_password, is_active, is_online, created_at, last_seen`

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	u.IsActive = true
	return r.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, hashed_password, is_active, is_online, created_at, last_seen)
		VALUES ($1, $2, $3, TRUE, FALSE, NOW(), NOW())
		RETURNING id, created_at, last_seen
	`, u.Username, u.Email, u.HashedPassword,
	).Scan(&u.ID, &u.CreatedAt, &u.LastSeen)
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepo) ListByIDs(ctx context.Context, ids []int64) ([]*domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1::bigint[]) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list users by id: %w", err)
	}
	return r.scanUsers(rows)
}

func (r *UserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active = TRUE
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	return r.scanUsers(rows)
}

func (r *UserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active = TRUE AND is_online = TRUE
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	return r.scanUsers(rows)
}

func (r *UserRepo) SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_online=$1, last_seen=NOW() WHERE id=$2`,
		isOnline, id,
	); err != nil {
		return fmt.Errorf("set online status: %w", err)
	}
	return nil
}

func (r *UserRepo) Update(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET email=$1, hashed_password=$2, is_active=$3
		WHERE id=$4
	`, u.Email, u.HashedPassword, u.IsActive, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (r *UserRepo) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.HashedPassword,
		&u.IsActive, &u.IsOnline, &u.CreatedAt, &u.LastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) scanUsers(rows *sql.Rows) ([]*domain.User, error) {
	defer rows.Close()
	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(
			&u.ID, &u.Username, &u.Email, &u.HashedPassword,
			&u.IsActive, &u.IsOnline, &u.CreatedAt, &u.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
