package authkit

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the bcrypt work factor for stored passwords.
const DefaultBcryptCost = 10

// PasswordHasher hashes and verifies user passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext string, hash string) (bool, error)
}

// BcryptHasher implements PasswordHasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher constructs a hasher; a cost outside bcrypt's range falls back to DefaultBcryptCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the bcrypt encoding of plaintext.
func (hasher *BcryptHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), hasher.cost)
	if err != nil {
		return "", fmt.Errorf("password.hash: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches hash. A mismatch is (false, nil);
// a malformed hash is an error.
func (hasher *BcryptHasher) Verify(plaintext string, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("password.verify: %w", err)
}
