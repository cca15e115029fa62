package authkit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"
)

// refreshSecretByteLength yields 512 bits of entropy per refresh secret.
const refreshSecretByteLength = 64

var refreshTokenRandomSource io.Reader = rand.Reader

func newRefreshTokenID() string {
	return uuid.NewString()
}

// generateRefreshSecret returns a hex-encoded random secret and its storage hash.
func generateRefreshSecret() (string, string, error) {
	randomBytes := make([]byte, refreshSecretByteLength)
	if _, err := io.ReadFull(refreshTokenRandomSource, randomBytes); err != nil {
		return "", "", fmt.Errorf("refresh_secret.random: %w", err)
	}
	secret := hex.EncodeToString(randomBytes)
	return secret, HashRefreshSecret(secret), nil
}

// HashRefreshSecret returns the deterministic lookup key for a refresh secret.
func HashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ClientInfo describes the client presenting credentials.
type ClientInfo struct {
	UserAgent string
	IP        string
}

// hashClientIP keeps the address out of storage while still allowing comparison.
func hashClientIP(rawIP string) string {
	trimmed := strings.TrimSpace(rawIP)
	if trimmed == "" {
		return ""
	}
	if parsed := net.ParseIP(trimmed); parsed != nil {
		trimmed = parsed.String()
	}
	sum := sha256.Sum256([]byte(trimmed))
	return hex.EncodeToString(sum[:])
}
