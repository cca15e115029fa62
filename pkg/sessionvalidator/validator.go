package sessionvalidator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Validator.
type Config struct {
	SigningKey []byte
	Issuer     string
	CookieName string
	Clock      Clock
}

// DefaultContextKey is used by GinMiddleware when no explicit key is provided.
const DefaultContextKey = "auth_claims"

// DefaultCookieName is used when Config.CookieName is empty.
const DefaultCookieName = "auth-access-token"

// Sentinel errors exposed by the validator.
var (
	ErrMissingSigningKey = errors.New("session.validator.missing_signing_key")
	ErrMissingIssuer     = errors.New("session.validator.missing_issuer")
	ErrMissingToken      = errors.New("session.validator.missing_token")
	ErrMissingCookie     = errors.New("session.validator.missing_cookie")
	ErrInvalidToken      = errors.New("session.validator.invalid_token")
	ErrInvalidIssuer     = errors.New("session.validator.invalid_issuer")
	ErrTokenExpired      = errors.New("session.validator.expired")
	ErrRoleNotAllowed    = errors.New("session.validator.role_not_allowed")
)

// Validator validates access tokens minted by the auth service.
type Validator struct {
	signingKey []byte
	issuer     string
	cookieName string
	clock      Clock
}

// Claims represent the payload embedded inside access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// GetUserID returns the user identifier from the token.
func (claims *Claims) GetUserID() string {
	if claims == nil {
		return ""
	}
	return claims.UserID
}

// GetRole returns the role carried by the token.
func (claims *Claims) GetRole() string {
	if claims == nil {
		return ""
	}
	return claims.Role
}

// GetExpiresAt returns the expiry timestamp.
func (claims *Claims) GetExpiresAt() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// HasRole reports whether the token role is one of allowedRoles.
func (claims *Claims) HasRole(allowedRoles ...string) bool {
	if claims == nil {
		return false
	}
	for _, allowed := range allowedRoles {
		if claims.Role == allowed {
			return true
		}
	}
	return false
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingIssuer)
	}
	cookieName := configuration.CookieName
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultCookieName
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Validator{
		signingKey: configuration.SigningKey,
		issuer:     configuration.Issuer,
		cookieName: cookieName,
		clock:      clock,
	}, nil
}

// ValidateToken validates the provided JWT string and returns the parsed claims.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := validator.parse(tokenString, "validate_token", jwt.WithTimeFunc(func() time.Time {
		return validator.clock.Now()
	}))
	if err != nil {
		return nil, err
	}
	current := validator.clock.Now()
	if claims.ExpiresAt == nil || !current.Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrTokenExpired)
	}
	if claims.NotBefore != nil && current.Before(claims.NotBefore.Time) {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidToken)
	}
	return claims, nil
}

// ValidateSignature checks signature, algorithm, and issuer but ignores the
// time-based claims. The caller must not treat the result as a live session.
func (validator *Validator) ValidateSignature(tokenString string) (*Claims, error) {
	return validator.parse(tokenString, "validate_signature", jwt.WithoutClaimsValidation())
}

func (validator *Validator) parse(tokenString string, operation string, options ...jwt.ParserOption) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("session.validator.%s: %w", operation, ErrMissingToken)
	}
	parserOptions := append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}, options...)
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	}, parserOptions...)
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("session.validator.%s: %w", operation, ErrTokenExpired)
		}
		return nil, fmt.Errorf("session.validator.%s: %w", operation, ErrInvalidToken)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("session.validator.%s: %w", operation, ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.UserID) == "" {
		return nil, fmt.Errorf("session.validator.%s: %w", operation, ErrInvalidToken)
	}
	if claims.Issuer != validator.issuer {
		return nil, fmt.Errorf("session.validator.%s: %w", operation, ErrInvalidIssuer)
	}
	return claims, nil
}

// ValidateRequest reads the configured cookie from the request and validates it.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingToken)
	}
	cookie, cookieErr := request.Cookie(validator.cookieName)
	if cookieErr != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingCookie)
	}
	return validator.ValidateToken(cookie.Value)
}

// AuthorizeRole returns ErrRoleNotAllowed when claims carry none of allowedRoles.
// An empty allowedRoles admits any role.
func AuthorizeRole(claims *Claims, allowedRoles ...string) error {
	if len(allowedRoles) == 0 || claims.HasRole(allowedRoles...) {
		return nil
	}
	return fmt.Errorf("session.validator.authorize_role: %s: %w", claims.GetRole(), ErrRoleNotAllowed)
}

// GinMiddleware returns a Gin middleware that validates the access cookie and
// injects claims. When allowedRoles is non-empty the token role must match one.
// Rejections are recorded on contextGin.Errors.
func (validator *Validator) GinMiddleware(contextKey string, allowedRoles ...string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			_ = contextGin.AbortWithError(http.StatusUnauthorized, err)
			return
		}
		if roleErr := AuthorizeRole(claims, allowedRoles...); roleErr != nil {
			_ = contextGin.AbortWithError(http.StatusForbidden, roleErr)
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}
