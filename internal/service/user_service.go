package service

import (
	"context"

	"zchat/internal/domain"
)

const (
	defaultUserPage = 100
	maxUserPage     = 500
)

// UserService provides user-related operations.
type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (s *UserService) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultUserPage
	}
	if limit > maxUserPage {
		limit = maxUserPage
	}
	return s.users.ListActive(ctx, offset, limit)
}

// ListOnline returns users whose persisted presence flag is set.
// The flag mirrors the hub's live session count.
func (s *UserService) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return s.users.ListOnline(ctx)
}
