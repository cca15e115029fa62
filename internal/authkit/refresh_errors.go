package authkit

import "errors"

var (
	// ErrRefreshTokenNotFound indicates no refresh token matched the provided identifier.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenAlreadyRevoked signals that a conditional revoke lost: the record was already revoked.
	ErrRefreshTokenAlreadyRevoked = errors.New("refresh_store.already_revoked")
	// ErrRefreshTokenDuplicate indicates a record with the same hash already exists.
	ErrRefreshTokenDuplicate = errors.New("refresh_store.duplicate")
	// ErrRefreshTokenInvalidRecord indicates a record failed validation at the store boundary.
	ErrRefreshTokenInvalidRecord = errors.New("refresh_store.invalid_record")

	// ErrUserNotFound indicates no user matched the lookup.
	ErrUserNotFound = errors.New("user_store.not_found")
	// ErrUserExists indicates a user with the same username already exists.
	ErrUserExists = errors.New("user_store.duplicate")
	// ErrUserInvalidRecord indicates a user failed validation at the store boundary.
	ErrUserInvalidRecord = errors.New("user_store.invalid_record")
)
