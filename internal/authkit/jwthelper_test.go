package authkit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tyemirov/rbacauth/pkg/sessionvalidator"
)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

func TestNewTokenCodecRequiresSigningKey(t *testing.T) {
	t.Parallel()

	_, err := NewTokenCodec(nil, "issuer", time.Hour, nil)
	if !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected ErrMissingSigningKey, got %v", err)
	}
}

func TestMintAccessTokenRejectsEmptySubject(t *testing.T) {
	t.Parallel()

	codec, err := NewTokenCodec([]byte("signing-key"), "issuer", time.Minute, fixedClock{timestamp: time.Unix(1700000000, 0)})
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	_, _, mintErr := codec.MintAccessToken("", RoleUser)
	if mintErr == nil {
		t.Fatalf("expected error when user ID is empty")
	}

	expected := "jwt.mint.failure: subject must be non-empty"
	if mintErr.Error() != expected {
		t.Fatalf("expected error %q, got %q", expected, mintErr.Error())
	}
}

func TestMintAccessTokenRejectsUnknownRole(t *testing.T) {
	t.Parallel()

	codec, err := NewTokenCodec([]byte("signing-key"), "issuer", time.Minute, nil)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	if _, _, mintErr := codec.MintAccessToken("user-1", Role("ROOT")); mintErr == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestMintAccessTokenCarriesClockTimestamps(t *testing.T) {
	t.Parallel()

	reference := time.Unix(1700000000, 0).UTC()
	codec, err := NewTokenCodec([]byte("signing-key"), "issuer", 2*time.Hour, fixedClock{timestamp: reference})
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	token, expiresAt, mintErr := codec.MintAccessToken("user-123", RoleAdmin)
	if mintErr != nil {
		t.Fatalf("unexpected error: %v", mintErr)
	}
	if token == "" {
		t.Fatalf("expected signed token")
	}
	expectedExpiry := reference.Add(2 * time.Hour)
	if !expiresAt.Equal(expectedExpiry) {
		t.Fatalf("expected expiry %v, got %v", expectedExpiry, expiresAt)
	}

	claims, verifyErr := codec.VerifyAccessToken(token)
	if verifyErr != nil {
		t.Fatalf("verify error: %v", verifyErr)
	}
	if claims.UserID != "user-123" || claims.Role != string(RoleAdmin) || claims.Subject != "user-123" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
}

func TestVerifyAccessTokenAfterExpiry(t *testing.T) {
	t.Parallel()

	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	codec, err := NewTokenCodec([]byte("signing-key"), "issuer", 2*time.Hour, clock)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	token, _, mintErr := codec.MintAccessToken("user-123", RoleUser)
	if mintErr != nil {
		t.Fatalf("mint error: %v", mintErr)
	}

	clock.Advance(2*time.Hour - time.Second)
	if _, verifyErr := codec.VerifyAccessToken(token); verifyErr != nil {
		t.Fatalf("expected token valid just before expiry, got %v", verifyErr)
	}

	clock.Advance(2 * time.Second)
	_, verifyErr := codec.VerifyAccessToken(token)
	if !errors.Is(verifyErr, sessionvalidator.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", verifyErr)
	}

	claims, signatureErr := codec.VerifyAccessTokenSignature(token)
	if signatureErr != nil {
		t.Fatalf("expected signature check to ignore expiry, got %v", signatureErr)
	}
	if claims.UserID != "user-123" {
		t.Fatalf("unexpected user id %s", claims.UserID)
	}
}

func TestVerifyAccessTokenRejectsForeignKey(t *testing.T) {
	t.Parallel()

	minting, err := NewTokenCodec([]byte("key-a"), "issuer", time.Hour, nil)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	verifying, err := NewTokenCodec([]byte("key-b"), "issuer", time.Hour, nil)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	token, _, mintErr := minting.MintAccessToken("user-1", RoleUser)
	if mintErr != nil {
		t.Fatalf("mint error: %v", mintErr)
	}
	if _, verifyErr := verifying.VerifyAccessToken(token); !errors.Is(verifyErr, sessionvalidator.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", verifyErr)
	}
	if _, verifyErr := verifying.VerifyAccessTokenSignature(token); !errors.Is(verifyErr, sessionvalidator.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken from signature check, got %v", verifyErr)
	}
}
