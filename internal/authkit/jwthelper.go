package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/rbacauth/pkg/sessionvalidator"
)

// AccessClaims are embedded in the access token.
type AccessClaims = sessionvalidator.Claims

var (
	// ErrMissingSigningKey indicates the codec was built without a key.
	ErrMissingSigningKey = errors.New("jwt.config.missing_signing_key")
	errEmptySubject      = errors.New("subject must be non-empty")
	errUnknownRole       = errors.New("role must be ADMIN or USER")
)

// TokenCodec mints and verifies HS256 access tokens.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	clock      Clock
	validator  *sessionvalidator.Validator
}

// NewTokenCodec builds a codec. An empty signing key is a configuration error.
func NewTokenCodec(signingKey []byte, issuer string, ttl time.Duration, clock Clock) (*TokenCodec, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("jwt.codec.new: %w", ErrMissingSigningKey)
	}
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: signingKey,
		Issuer:     issuer,
		CookieName: AccessCookieName,
		Clock:      clock,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt.codec.new: %w", err)
	}
	return &TokenCodec{
		signingKey: signingKey,
		issuer:     issuer,
		ttl:        ttl,
		clock:      clock,
		validator:  validator,
	}, nil
}

// TTL returns the access token lifetime.
func (codec *TokenCodec) TTL() time.Duration {
	return codec.ttl
}

// MintAccessToken creates a signed access token for the user and role.
func (codec *TokenCodec) MintAccessToken(userID string, role Role) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", errEmptySubject)
	}
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", errUnknownRole)
	}
	issuedAt := codec.clock.Now().UTC()
	expiresAt := issuedAt.Add(codec.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(codec.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.sign: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken checks signature, issuer, and expiry.
func (codec *TokenCodec) VerifyAccessToken(token string) (*AccessClaims, error) {
	return codec.validator.ValidateToken(token)
}

// VerifyAccessTokenSignature checks signature and issuer only.
func (codec *TokenCodec) VerifyAccessTokenSignature(token string) (*AccessClaims, error) {
	return codec.validator.ValidateSignature(token)
}
