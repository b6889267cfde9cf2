package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"zchat/internal/domain"
	"zchat/internal/security"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 8
)

// AuthService handles registration, login and token authentication.
type AuthService struct {
	users  domain.UserRepository
	tokens *security.TokenService
	hash   *security.PasswordHasher
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService, hash *security.PasswordHasher) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		hash:   hash,
	}
}

type RegisterInput struct {
	Username string
	Email    *string
	Password string
}

type LoginInput struct {
	Username string
	Password string
}

type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *domain.User `json:"user"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if n := len([]rune(in.Username)); n < minUsernameLen || n > maxUsernameLen {
		return nil, fmt.Errorf("%w: username must be %d-%d characters", domain.ErrInvalidInput, minUsernameLen, maxUsernameLen)
	}
	if len(in.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLen)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	in.Email = email

	if existing, err := s.users.GetByUsername(ctx, in.Username); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	} else if existing != nil {
		return nil, fmt.Errorf("%w: username already registered", domain.ErrConflict)
	}

	if in.Email != nil {
		if existing, err := s.users.GetByEmail(ctx, *in.Email); err != nil {
			return nil, fmt.Errorf("check email: %w", err)
		} else if existing != nil {
			return nil, fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
	}

	hashed, err := s.hash.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:       in.Username,
		Email:          in.Email,
		HashedPassword: hashed,
		IsActive:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResponse, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(in.Username))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || s.hash.Verify(in.Password, user.HashedPassword) != nil {
		return nil, fmt.Errorf("%w: incorrect username or password", domain.ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user account is inactive", domain.ErrUnauthorized)
	}

	return s.issue(user)
}

type ProfileInput struct {
	Email *string
}

type PasswordChangeInput struct {
	OldPassword        string
	NewPassword        string
	NewPasswordConfirm string
}

// UpdateProfile changes user's email. A nil or blank email leaves it as is.
func (s *AuthService) UpdateProfile(ctx context.Context, user *domain.User, in ProfileInput) (*domain.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return user, nil
	}

	if existing, err := s.users.GetByEmail(ctx, *email); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	} else if existing != nil && existing.ID != user.ID {
		return nil, fmt.Errorf("%w: email already registered", domain.ErrConflict)
	}

	updated := *user
	updated.Email = email
	if err := s.users.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return &updated, nil
}

// ChangePassword re-hashes user's password after checking the current one.
// A wrong old password is invalid input, not an auth failure: the caller is
// already authenticated.
func (s *AuthService) ChangePassword(ctx context.Context, user *domain.User, in PasswordChangeInput) error {
	if err := s.hash.Verify(in.OldPassword, user.HashedPassword); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return fmt.Errorf("%w: old password is incorrect", domain.ErrInvalidInput)
		}
		return err
	}
	if in.NewPassword != in.NewPasswordConfirm {
		return fmt.Errorf("%w: new passwords do not match", domain.ErrInvalidInput)
	}
	if len(in.NewPassword) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLen)
	}

	hashed, err := s.hash.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	updated := *user
	updated.HashedPassword = hashed
	if err := s.users.Update(ctx, &updated); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	user.HashedPassword = hashed
	return nil
}

func normalizeEmail(email *string) (*string, error) {
	if email == nil {
		return nil, nil
	}
	e := strings.TrimSpace(*email)
	if e == "" {
		return nil, nil
	}
	if !strings.Contains(e, "@") {
		return nil, fmt.Errorf("%w: invalid email", domain.ErrInvalidInput)
	}
	return &e, nil
}

// IssueToken returns a fresh access token for an already verified user.
func (s *AuthService) IssueToken(user *domain.User) (*TokenResponse, error) {
	return s.issue(user)
}

func (s *AuthService) issue(user *domain.User) (*TokenResponse, error) {
	token, err := s.tokens.CreateForUser(user.Username)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	}, nil
}

// Authenticate resolves a bearer token to an active user.
// Every failure wraps domain.ErrAuth.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", domain.ErrAuth)
	}
	sub, err := s.tokens.Subject(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	user, err := s.users.GetByUsername(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup user: %v", domain.ErrAuth, err)
	}
	if user == nil || !user.IsActive {
		return nil, fmt.Errorf("%w: user not found", domain.ErrAuth)
	}
	return user, nil
}
