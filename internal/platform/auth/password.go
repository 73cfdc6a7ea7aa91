package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

type PasswordHasher struct {
	params *argon2id.Params
}

// NewPasswordHasher falls back to argon2id.DefaultParams when params is nil.
func NewPasswordHasher(params *argon2id.Params) *PasswordHasher {
	if params == nil {
		params = argon2id.DefaultParams
	}
	return &PasswordHasher{params: params}
}

func (h *PasswordHasher) Hash(plain string) (string, error) {
	hash, err := argon2id.CreateHash(plain, h.params)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Verify reports false, not an error, for a plain mismatch.
func (h *PasswordHasher) Verify(plain, hash string) (bool, error) {
	ok, err := argon2id.ComparePasswordAndHash(plain, hash)
	if err != nil {
		return false, fmt.Errorf("compare password: %w", err)
	}
	return ok, nil
}
