package authkit

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteDependencies bundles what the auth routes need.
type RouteDependencies struct {
	Config   ServerConfig
	Sessions *SessionManager
	Registry *UserRegistry
	Codec    *TokenCodec
	Logger   *zap.Logger
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionPayload struct {
	UserID           string    `json:"user_id"`
	Role             Role      `json:"role"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// MountAuthRoutes registers registration, login, refresh, and logout.
func MountAuthRoutes(router gin.IRouter, dependencies RouteDependencies) {
	configuration := dependencies.Config.WithDefaults()
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := dependencies.Sessions
	registry := dependencies.Registry

	router.POST("/api/users/add-new", func(contextGin *gin.Context) {
		var inbound RegistrationInput
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			WriteError(contextGin, logger, newAuthError(KindValidation, "Invalid User Data", "Request body must be JSON", ErrInvalidRegistration))
			return
		}
		created, err := registry.Register(contextGin.Request.Context(), inbound)
		if err != nil {
			WriteError(contextGin, logger, err)
			return
		}
		WriteSuccess(contextGin, http.StatusCreated, "User Created Successfully", created)
	})

	router.POST("/api/user/login", func(contextGin *gin.Context) {
		var inbound loginRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			WriteError(contextGin, logger, newAuthError(KindValidation, "Invalid Credentials", "Username or Password is missing", ErrCredentialsMissing))
			return
		}
		identifier := strings.TrimSpace(inbound.Username)
		if identifier == "" {
			identifier = strings.TrimSpace(inbound.Email)
		}
		pair, err := sessions.Login(contextGin.Request.Context(), identifier, inbound.Password, clientInfo(contextGin))
		if err != nil {
			WriteError(contextGin, logger, err)
			return
		}
		writeSessionCookies(contextGin, configuration, pair)
		WriteSuccess(contextGin, http.StatusOK, "Login Successful", newSessionPayload(pair))
	})

	refreshGuard := []gin.HandlerFunc{
		RequireAccessToken(dependencies.Codec, configuration.AccessCookieName, AllowExpiredAccessToken()),
		Authorize(configuration.RefreshRoles...),
	}
	router.POST("/api/user/refresh", append(refreshGuard, func(contextGin *gin.Context) {
		refreshSecret := ""
		if cookie, err := contextGin.Request.Cookie(configuration.RefreshCookieName); err == nil && cookie != nil {
			refreshSecret = strings.TrimSpace(cookie.Value)
		}
		principal, _ := PrincipalFromContext(contextGin)
		pair, err := sessions.RefreshForUser(contextGin.Request.Context(), principal.UserID, refreshSecret, clientInfo(contextGin))
		if err != nil {
			if errors.Is(err, ErrRefreshTokenReused) {
				clearSessionCookies(contextGin, configuration)
			}
			WriteError(contextGin, logger, err)
			return
		}
		writeSessionCookies(contextGin, configuration, pair)
		WriteSuccess(contextGin, http.StatusOK, "Access token refreshed successfully", newSessionPayload(pair))
	})...)

	router.POST("/api/user/logout",
		RequireAccessToken(dependencies.Codec, configuration.AccessCookieName, AllowExpiredAccessToken()),
		func(contextGin *gin.Context) {
			principal, _ := PrincipalFromContext(contextGin)
			revoked, err := sessions.RevokeAll(contextGin.Request.Context(), principal.UserID)
			if err != nil {
				WriteError(contextGin, logger, err)
				return
			}
			clearSessionCookies(contextGin, configuration)
			WriteSuccess(contextGin, http.StatusOK, "Logged out", gin.H{"revoked_sessions": revoked})
		})
}

func newSessionPayload(pair SessionPair) sessionPayload {
	return sessionPayload{
		UserID:           pair.UserID,
		Role:             pair.Role,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func clientInfo(contextGin *gin.Context) ClientInfo {
	return ClientInfo{
		UserAgent: contextGin.Request.UserAgent(),
		IP:        contextGin.ClientIP(),
	}
}

func writeSessionCookies(contextGin *gin.Context, configuration ServerConfig, pair SessionPair) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.AccessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  pair.AccessExpiresAt,
		MaxAge:   int(configuration.AccessTTL.Seconds()),
		Secure:   configuration.SecureCookies,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.RefreshCookieName,
		Value:    pair.RefreshSecret,
		Path:     configuration.RefreshCookiePath,
		Domain:   configuration.CookieDomain,
		Expires:  pair.RefreshExpiresAt,
		MaxAge:   int(configuration.RefreshTTL.Seconds()),
		Secure:   configuration.SecureCookies,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func clearSessionCookies(contextGin *gin.Context, configuration ServerConfig) {
	clearCookie(contextGin, configuration, configuration.AccessCookieName, "/")
	clearCookie(contextGin, configuration, configuration.RefreshCookieName, configuration.RefreshCookiePath)
}

func clearCookie(contextGin *gin.Context, configuration ServerConfig, name string, path string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   configuration.SecureCookies,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}
