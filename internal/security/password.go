package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"zchat/internal/domain"
)

// PasswordHasher stores account passwords as bcrypt hashes.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher clamps cost into bcrypt's accepted range; zero selects
// bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash rejects passwords longer than bcrypt's 72-byte input limit with
// domain.ErrInvalidInput.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", fmt.Errorf("%w: password must be at most 72 bytes", domain.ErrInvalidInput)
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Verify returns domain.ErrUnauthorized when plain does not match hashed.
// A malformed stored hash is reported as a plain error.
func (h *PasswordHasher) Verify(plain, hashed string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return domain.ErrUnauthorized
	default:
		return fmt.Errorf("verify password: %w", err)
	}
}
