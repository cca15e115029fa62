package authkit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// User is an application account. PasswordHash never leaves the service.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// Validate enforces the user schema at the store boundary.
func (user User) Validate() error {
	switch {
	case strings.TrimSpace(user.ID) == "":
		return fmt.Errorf("%w: id is required", ErrUserInvalidRecord)
	case strings.TrimSpace(user.Username) == "":
		return fmt.Errorf("%w: username is required", ErrUserInvalidRecord)
	case strings.TrimSpace(user.Name) == "":
		return fmt.Errorf("%w: name is required", ErrUserInvalidRecord)
	case user.PasswordHash == "":
		return fmt.Errorf("%w: password hash is required", ErrUserInvalidRecord)
	case !user.Role.Valid():
		return fmt.Errorf("%w: role %q is not supported", ErrUserInvalidRecord, user.Role)
	}
	return nil
}

// RefreshTokenRecord is the persisted form of an issued refresh secret.
type RefreshTokenRecord struct {
	ID              string
	UserID          string
	TokenHash       string
	ExpiresAt       time.Time
	Revoked         bool
	CreatedAt       time.Time
	PreviousTokenID string
	UserAgent       string
	IPHash          string
}

// Validate enforces the record schema at the store boundary.
func (record RefreshTokenRecord) Validate() error {
	switch {
	case strings.TrimSpace(record.ID) == "":
		return fmt.Errorf("%w: id is required", ErrRefreshTokenInvalidRecord)
	case strings.TrimSpace(record.UserID) == "":
		return fmt.Errorf("%w: user id is required", ErrRefreshTokenInvalidRecord)
	case strings.TrimSpace(record.TokenHash) == "":
		return fmt.Errorf("%w: token hash is required", ErrRefreshTokenInvalidRecord)
	case record.ExpiresAt.IsZero():
		return fmt.Errorf("%w: expiry is required", ErrRefreshTokenInvalidRecord)
	}
	return nil
}

// ExpiredAt reports whether the record has passed its expiry at now.
func (record RefreshTokenRecord) ExpiredAt(now time.Time) bool {
	return now.After(record.ExpiresAt)
}

// UserStore persists and retrieves application users.
type UserStore interface {
	CreateUser(ctx context.Context, user User) (User, error)
	// FindByLogin matches the username or the email, whichever equals login.
	FindByLogin(ctx context.Context, login string) (User, error)
	FindByID(ctx context.Context, userID string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// RefreshTokenStore manages long-lived refresh token records.
type RefreshTokenStore interface {
	Insert(ctx context.Context, record RefreshTokenRecord) error
	FindByHash(ctx context.Context, tokenHash string) (RefreshTokenRecord, error)
	// Revoke flips revoked from false to true and reports
	// ErrRefreshTokenAlreadyRevoked when the record was already revoked.
	Revoke(ctx context.Context, tokenID string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// ExpiredTokenPurger deletes records whose expiry has passed.
type ExpiredTokenPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
