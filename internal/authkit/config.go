package authkit

import (
	"net/http"
	"time"
)

const (
	// AccessCookieName carries the signed access token.
	AccessCookieName = "auth-access-token"
	// RefreshCookieName carries the opaque refresh secret.
	RefreshCookieName = "auth-refresh-token"
	// RefreshCookiePath restricts the refresh cookie to the refresh endpoint.
	RefreshCookiePath = "/api/user/refresh"

	// DefaultAccessTTL is the access token lifetime.
	DefaultAccessTTL = 2 * time.Hour
	// DefaultRefreshTTL is the refresh token lifetime.
	DefaultRefreshTTL = 3 * 24 * time.Hour
)

// ServerConfig configures the issuer, cookies, and TTLs.
type ServerConfig struct {
	JWTSigningKey     []byte
	JWTIssuer         string
	CookieDomain      string
	AccessCookieName  string
	RefreshCookieName string
	RefreshCookiePath string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	SameSiteMode      http.SameSite
	SecureCookies     bool
	// RefreshRoles lists the roles allowed to call the refresh endpoint.
	RefreshRoles []Role
}

// WithDefaults fills unset cookie names, paths, TTLs, and roles.
func (configuration ServerConfig) WithDefaults() ServerConfig {
	if configuration.AccessCookieName == "" {
		configuration.AccessCookieName = AccessCookieName
	}
	if configuration.RefreshCookieName == "" {
		configuration.RefreshCookieName = RefreshCookieName
	}
	if configuration.RefreshCookiePath == "" {
		configuration.RefreshCookiePath = RefreshCookiePath
	}
	if configuration.AccessTTL <= 0 {
		configuration.AccessTTL = DefaultAccessTTL
	}
	if configuration.RefreshTTL <= 0 {
		configuration.RefreshTTL = DefaultRefreshTTL
	}
	if configuration.SameSiteMode == 0 {
		configuration.SameSiteMode = http.SameSiteLaxMode
	}
	if len(configuration.RefreshRoles) == 0 {
		configuration.RefreshRoles = []Role{RoleUser}
	}
	return configuration
}
