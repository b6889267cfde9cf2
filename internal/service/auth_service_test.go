package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zchat/internal/domain"
	"zchat/internal/security"
	"zchat/internal/service"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) ListByIDs(ctx context.Context, ids []int64) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockUserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockUserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockUserRepo) SetOnlineStatus(ctx context.Context, userID int64, isOnline bool) error {
	args := m.Called(ctx, userID, isOnline)
	return args.Error(0)
}

func (m *MockUserRepo) Update(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func newAuth(repo domain.UserRepository) (*service.AuthService, *security.PasswordHasher) {
	hasher := security.NewPasswordHasher(4)
	return service.NewAuthService(repo, security.NewTokenService("secret", time.Hour), hasher), hasher
}

func TestRegister(t *testing.T) {
	mockRepo := new(MockUserRepo)
	svc, hasher := newAuth(mockRepo)

	t.Run("Success", func(t *testing.T) {
		mockRepo.On("GetByUsername", mock.Anything, "newuser").Return(nil, nil).Once()
		mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Username == "newuser" && u.IsActive
		})).Return(nil).Once()

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "  newuser ",
			Password: "Password1!",
		})
		require.NoError(t, err)
		assert.Equal(t, "newuser", user.Username)
		assert.NoError(t, hasher.Verify("Password1!", user.HashedPassword))
	})

	t.Run("UsernameTaken", func(t *testing.T) {
		mockRepo.On("GetByUsername", mock.Anything, "existing").
			Return(&domain.User{Username: "existing"}, nil).Once()

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "existing",
			Password: "Password1!",
		})
		assert.Nil(t, user)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("EmailTaken", func(t *testing.T) {
		email := "a@example.com"
		mockRepo.On("GetByUsername", mock.Anything, "fresh").Return(nil, nil).Once()
		mockRepo.On("GetByEmail", mock.Anything, email).Return(&domain.User{ID: 9}, nil).Once()

		_, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "fresh",
			Email:    &email,
			Password: "Password1!",
		})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		bad := "nope"
		for name, in := range map[string]service.RegisterInput{
			"short username": {Username: "ab", Password: "Password1!"},
			"short password": {Username: "valid", Password: "short"},
			"bad email":      {Username: "valid", Password: "Password1!", Email: &bad},
		} {
			_, err := svc.Register(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput, name)
		}
	})

	mockRepo.AssertExpectations(t)
}

func TestLogin(t *testing.T) {
	mockRepo := new(MockUserRepo)
	svc, hasher := newAuth(mockRepo)

	hashed, err := hasher.Hash("Password1!")
	require.NoError(t, err)
	alice := &domain.User{ID: 1, Username: "alice", HashedPassword: hashed, IsActive: true}

	t.Run("Success", func(t *testing.T) {
		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(alice, nil).Once()

		tok, err := svc.Login(context.Background(), service.LoginInput{Username: "alice", Password: "Password1!"})
		require.NoError(t, err)
		assert.Equal(t, "bearer", tok.TokenType)
		assert.NotEmpty(t, tok.AccessToken)
		assert.Same(t, alice, tok.User)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(alice, nil).Once()

		_, err := svc.Login(context.Background(), service.LoginInput{Username: "alice", Password: "nope"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		mockRepo.On("GetByUsername", mock.Anything, "ghost").Return(nil, nil).Once()

		_, err := svc.Login(context.Background(), service.LoginInput{Username: "ghost", Password: "Password1!"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("Inactive", func(t *testing.T) {
		inactive := *alice
		inactive.IsActive = false
		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(&inactive, nil).Once()

		_, err := svc.Login(context.Background(), service.LoginInput{Username: "alice", Password: "Password1!"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestAuthenticate(t *testing.T) {
	mockRepo := new(MockUserRepo)
	svc, _ := newAuth(mockRepo)
	alice := &domain.User{ID: 1, Username: "alice", IsActive: true}

	tok, err := svc.IssueToken(alice)
	require.NoError(t, err)

	t.Run("Valid", func(t *testing.T) {
		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(alice, nil).Once()
		u, err := svc.Authenticate(context.Background(), tok.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, int64(1), u.ID)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := svc.Authenticate(context.Background(), "")
		assert.ErrorIs(t, err, domain.ErrAuth)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := svc.Authenticate(context.Background(), "x.y.z")
		assert.ErrorIs(t, err, domain.ErrAuth)
	})

	t.Run("UserGone", func(t *testing.T) {
		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(nil, nil).Once()
		_, err := svc.Authenticate(context.Background(), tok.AccessToken)
		assert.ErrorIs(t, err, domain.ErrAuth)
	})

	t.Run("StoreError", func(t *testing.T) {
		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(nil, errors.New("db down")).Once()
		_, err := svc.Authenticate(context.Background(), tok.AccessToken)
		assert.ErrorIs(t, err, domain.ErrAuth)
	})
}

func TestUpdateProfile(t *testing.T) {
	mockRepo := new(MockUserRepo)
	svc, _ := newAuth(mockRepo)
	alice := &domain.User{ID: 1, Username: "alice", IsActive: true}

	t.Run("Success", func(t *testing.T) {
		mockRepo.On("GetByEmail", mock.Anything, "a@example.com").Return(nil, nil).Once()
		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.ID == 1 && u.Email != nil && *u.Email == "a@example.com"
		})).Return(nil).Once()

		email := " a@example.com "
		u, err := svc.UpdateProfile(context.Background(), alice, service.ProfileInput{Email: &email})
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", *u.Email)
		assert.Nil(t, alice.Email, "the caller's copy is untouched")
	})

	t.Run("Blank email is a no-op", func(t *testing.T) {
		blank := "  "
		u, err := svc.UpdateProfile(context.Background(), alice, service.ProfileInput{Email: &blank})
		require.NoError(t, err)
		assert.Same(t, alice, u)
	})

	t.Run("Taken", func(t *testing.T) {
		mockRepo.On("GetByEmail", mock.Anything, "b@example.com").Return(&domain.User{ID: 2}, nil).Once()
		taken := "b@example.com"
		_, err := svc.UpdateProfile(context.Background(), alice, service.ProfileInput{Email: &taken})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("StoreFails", func(t *testing.T) {
		mockRepo.On("GetByEmail", mock.Anything, "c@example.com").Return(nil, nil).Once()
		mockRepo.On("Update", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
		email := "c@example.com"
		_, err := svc.UpdateProfile(context.Background(), alice, service.ProfileInput{Email: &email})
		assert.Error(t, err)
	})

	mockRepo.AssertExpectations(t)
}

func TestChangePassword(t *testing.T) {
	mockRepo := new(MockUserRepo)
	svc, hasher := newAuth(mockRepo)

	hashed, err := hasher.Hash("Password1!")
	require.NoError(t, err)
	alice := &domain.User{ID: 1, Username: "alice", HashedPassword: hashed, IsActive: true}

	t.Run("Rejected", func(t *testing.T) {
		for name, in := range map[string]service.PasswordChangeInput{
			"wrong old password": {OldPassword: "nope", NewPassword: "NewPassword1", NewPasswordConfirm: "NewPassword1"},
			"confirm mismatch":   {OldPassword: "Password1!", NewPassword: "NewPassword1", NewPasswordConfirm: "NewPassword2"},
			"too short":          {OldPassword: "Password1!", NewPassword: "short", NewPasswordConfirm: "short"},
		} {
			err := svc.ChangePassword(context.Background(), alice, in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput, name)
		}
		mockRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("Success", func(t *testing.T) {
		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.ID == 1 && hasher.Verify("NewPassword1", u.HashedPassword) == nil
		})).Return(nil).Once()

		err := svc.ChangePassword(context.Background(), alice, service.PasswordChangeInput{
			OldPassword: "Password1!", NewPassword: "NewPassword1", NewPasswordConfirm: "NewPassword1",
		})
		require.NoError(t, err)
		assert.NoError(t, hasher.Verify("NewPassword1", alice.HashedPassword))
	})

	mockRepo.AssertExpectations(t)
}
