package authkit

import (
	"errors"
	"net/http"
	"testing"
)

func TestServerConfigWithDefaults(t *testing.T) {
	configuration := ServerConfig{}.WithDefaults()
	if configuration.AccessCookieName != AccessCookieName || configuration.RefreshCookieName != RefreshCookieName {
		t.Fatalf("unexpected cookie names %#v", configuration)
	}
	if configuration.RefreshCookiePath != RefreshCookiePath {
		t.Fatalf("unexpected refresh path %s", configuration.RefreshCookiePath)
	}
	if configuration.AccessTTL != DefaultAccessTTL || configuration.RefreshTTL != DefaultRefreshTTL {
		t.Fatalf("unexpected ttls %v %v", configuration.AccessTTL, configuration.RefreshTTL)
	}
	if configuration.SameSiteMode != http.SameSiteLaxMode {
		t.Fatalf("expected SameSite=Lax")
	}
	if len(configuration.RefreshRoles) != 1 || configuration.RefreshRoles[0] != RoleUser {
		t.Fatalf("expected refresh limited to USER, got %v", configuration.RefreshRoles)
	}

	custom := ServerConfig{RefreshRoles: []Role{RoleUser, RoleAdmin}, SameSiteMode: http.SameSiteStrictMode}.WithDefaults()
	if len(custom.RefreshRoles) != 2 || custom.SameSiteMode != http.SameSiteStrictMode {
		t.Fatalf("explicit settings must survive defaults: %#v", custom)
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" admin ")
	if err != nil || role != RoleAdmin {
		t.Fatalf("expected ADMIN, got %s (%v)", role, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestKindOfAndStatus(t *testing.T) {
	wrapped := newAuthError(KindForbidden, "Access Denied", "", ErrRoleNotAllowed)
	if KindOf(wrapped) != KindForbidden || KindOf(wrapped).HTTPStatus() != http.StatusForbidden {
		t.Fatalf("unexpected kind mapping for %v", wrapped)
	}
	if !errors.Is(wrapped, ErrRoleNotAllowed) {
		t.Fatalf("expected AuthError to unwrap its cause")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("plain errors must map to internal")
	}
	if KindValidation.HTTPStatus() != http.StatusBadRequest || KindNotFound.HTTPStatus() != http.StatusNotFound || KindUnauthorized.HTTPStatus() != http.StatusUnauthorized || KindInternal.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("unexpected status mapping")
	}
}
