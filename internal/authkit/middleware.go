package authkit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/rbacauth/pkg/sessionvalidator"
)

// PrincipalContextKey is the gin context key holding the authenticated Principal.
const PrincipalContextKey = "auth_principal"

type principalContextKey struct{}

// Principal is the caller identity extracted from a verified access token.
type Principal struct {
	UserID    string
	Role      Role
	ExpiresAt time.Time
}

// GuardOption customizes RequireAccessToken.
type GuardOption func(*guardOptions)

type guardOptions struct {
	allowExpired bool
}

// AllowExpiredAccessToken accepts tokens whose signature and issuer are valid
// even when they have expired. Only the refresh and logout routes use it.
func AllowExpiredAccessToken() GuardOption {
	return func(options *guardOptions) {
		options.allowExpired = true
	}
}

// RequireAccessToken verifies the access token from the cookie or the
// Authorization header and attaches the Principal.
func RequireAccessToken(codec *TokenCodec, cookieName string, opts ...GuardOption) gin.HandlerFunc {
	if strings.TrimSpace(cookieName) == "" {
		cookieName = AccessCookieName
	}
	options := guardOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return func(contextGin *gin.Context) {
		token := accessTokenFromRequest(contextGin, cookieName)
		if token == "" {
			WriteError(contextGin, nil, MissingAccessTokenError())
			return
		}
		var claims *AccessClaims
		var err error
		if options.allowExpired {
			claims, err = codec.VerifyAccessTokenSignature(token)
		} else {
			claims, err = codec.VerifyAccessToken(token)
		}
		if err != nil {
			debug := "Invalid Access Token"
			if errors.Is(err, sessionvalidator.ErrTokenExpired) {
				debug = "Access Token Expired"
			}
			WriteError(contextGin, nil, newAuthError(KindUnauthorized, "Please login to continue", debug, errors.Join(ErrAccessTokenInvalid, err)))
			return
		}
		role := Role(claims.Role)
		if !role.Valid() {
			WriteError(contextGin, nil, newAuthError(KindUnauthorized, "Please login to continue", "Invalid Access Token", ErrAccessTokenInvalid))
			return
		}
		principal := Principal{
			UserID:    claims.UserID,
			Role:      role,
			ExpiresAt: claims.GetExpiresAt(),
		}
		contextGin.Set(PrincipalContextKey, principal)
		contextGin.Request = contextGin.Request.WithContext(WithPrincipal(contextGin.Request.Context(), principal))
		contextGin.Next()
	}
}

// Authorize requires a Principal whose role is one of allowed.
func Authorize(allowed ...Role) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		principal, ok := PrincipalFromContext(contextGin)
		if !ok {
			WriteError(contextGin, nil, MissingAccessTokenError())
			return
		}
		if len(allowed) > 0 && !rolesContain(allowed, principal.Role) {
			WriteError(contextGin, nil, newAuthError(KindForbidden, "Access Denied", "Role "+string(principal.Role)+" is not allowed", ErrRoleNotAllowed))
			return
		}
		contextGin.Next()
	}
}

// PrincipalFromContext returns the Principal attached by RequireAccessToken.
func PrincipalFromContext(contextGin *gin.Context) (Principal, bool) {
	value, exists := contextGin.Get(PrincipalContextKey)
	if !exists {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok
}

// WithPrincipal stores the Principal on a context.Context.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromRequestContext returns the Principal stored by WithPrincipal.
func PrincipalFromRequestContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

func accessTokenFromRequest(contextGin *gin.Context, cookieName string) string {
	if cookie, err := contextGin.Request.Cookie(cookieName); err == nil && cookie != nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value
		}
	}
	header := strings.TrimSpace(contextGin.GetHeader("Authorization"))
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}
