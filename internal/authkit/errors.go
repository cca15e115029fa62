package authkit

import (
	"errors"
	"net/http"
)

// ErrorKind classifies failures surfaced to HTTP callers.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindInternal     ErrorKind = "internal"
)

// HTTPStatus maps the kind onto its response status.
func (kind ErrorKind) HTTPStatus() int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

var (
	// ErrCredentialsMissing indicates an empty identifier or password.
	ErrCredentialsMissing = errors.New("session.login.missing_credentials")
	// ErrInvalidCredentials indicates a password mismatch.
	ErrInvalidCredentials = errors.New("session.login.invalid_credentials")
	// ErrRefreshTokenMissing indicates the refresh secret was not supplied.
	ErrRefreshTokenMissing = errors.New("session.refresh.missing_token")
	// ErrRefreshTokenExpired indicates the refresh record passed its expiry.
	ErrRefreshTokenExpired = errors.New("session.refresh.expired")
	// ErrRefreshTokenReused indicates a revoked refresh secret was presented again.
	ErrRefreshTokenReused = errors.New("session.refresh.reused")
	// ErrRefreshTokenMismatch indicates the refresh secret belongs to a user other than the access token's.
	ErrRefreshTokenMismatch = errors.New("session.refresh.principal_mismatch")
	// ErrSessionUserMissing indicates the user behind a refresh record no longer exists.
	ErrSessionUserMissing = errors.New("session.refresh.user_missing")
	// ErrAccessTokenMissing indicates no access token accompanied the request.
	ErrAccessTokenMissing = errors.New("guard.missing_token")
	// ErrAccessTokenInvalid indicates a bad signature, issuer, or expired token.
	ErrAccessTokenInvalid = errors.New("guard.invalid_token")
	// ErrRoleNotAllowed indicates an authenticated principal lacks the required role.
	ErrRoleNotAllowed = errors.New("guard.role_not_allowed")
	// ErrInvalidRegistration indicates malformed user registration input.
	ErrInvalidRegistration = errors.New("users.register.invalid")
)

// AuthError carries the client-facing message, an optional debug detail, and
// the kind used to pick the HTTP status.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Debug   string
	Err     error
}

func (authError *AuthError) Error() string {
	if authError.Err != nil {
		return string(authError.Kind) + ": " + authError.Message + ": " + authError.Err.Error()
	}
	return string(authError.Kind) + ": " + authError.Message
}

func (authError *AuthError) Unwrap() error {
	return authError.Err
}

func newAuthError(kind ErrorKind, message string, debug string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Debug: debug, Err: cause}
}

// MissingAccessTokenError is the unauthorized error for a request with no authenticated principal.
func MissingAccessTokenError() *AuthError {
	return newAuthError(KindUnauthorized, "Please login to continue", "Access Token is missing", ErrAccessTokenMissing)
}

func internalError(cause error) *AuthError {
	return newAuthError(KindInternal, "Internal Server Error", "", cause)
}

// KindOf returns the kind of err, treating unknown errors as internal.
func KindOf(err error) ErrorKind {
	var authError *AuthError
	if errors.As(err, &authError) {
		return authError.Kind
	}
	return KindInternal
}
