package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/rbacauth/internal/authkit"
	"go.uber.org/zap"
)

// UserRouteDependencies bundles what the user read routes need.
type UserRouteDependencies struct {
	Codec            *authkit.TokenCodec
	AccessCookieName string
	Registry         *authkit.UserRegistry
	Sessions         *authkit.SessionManager
	Logger           *zap.Logger
}

// MountUserRoutes registers the admin user listing and the caller profile.
func MountUserRoutes(router gin.IRouter, dependencies UserRouteDependencies) {
	guard := authkit.RequireAccessToken(dependencies.Codec, dependencies.AccessCookieName)
	router.GET("/api/users/all", guard, authkit.Authorize(authkit.RoleAdmin), HandleListUsers(dependencies.Logger, dependencies.Registry))
	router.GET("/api/user/me", guard, HandleWhoAmI(dependencies.Logger, dependencies.Sessions))
}

// HandleListUsers returns every account. Callers must sit behind an ADMIN guard.
func HandleListUsers(logger *zap.Logger, registry *authkit.UserRegistry) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		panic("user registry is required")
	}

	return func(contextGin *gin.Context) {
		users, err := registry.List(contextGin.Request.Context())
		if err != nil {
			authkit.WriteError(contextGin, logger, err)
			return
		}
		authkit.WriteSuccess(contextGin, http.StatusOK, "Users fetched successfully", users)
	}
}

type profilePayload struct {
	authkit.User
	ExpiresAt time.Time `json:"expires"`
}

// HandleWhoAmI resolves the authenticated user's profile payload.
func HandleWhoAmI(logger *zap.Logger, sessions *authkit.SessionManager) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessions == nil {
		panic("session manager is required")
	}

	return func(contextGin *gin.Context) {
		principal, found := authkit.PrincipalFromContext(contextGin)
		if !found || principal.UserID == "" {
			logger.Warn("missing principal on context",
				zap.String("code", "api.me.missing_principal"))
			authkit.WriteError(contextGin, logger, authkit.MissingAccessTokenError())
			return
		}

		user, err := sessions.Profile(contextGin.Request.Context(), principal.UserID)
		if err != nil {
			if authkit.KindOf(err) == authkit.KindNotFound {
				logger.Warn("user profile missing",
					zap.String("code", "api.me.profile_missing"),
					zap.String("user_id", principal.UserID))
			}
			authkit.WriteError(contextGin, logger, err)
			return
		}

		authkit.WriteSuccess(contextGin, http.StatusOK, "Profile fetched successfully", profilePayload{
			User:      user,
			ExpiresAt: principal.ExpiresAt,
		})
	}
}
