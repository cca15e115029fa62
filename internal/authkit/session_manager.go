package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SessionPair is the credential pair handed to a client after login or refresh.
type SessionPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshSecret    string
	RefreshExpiresAt time.Time
	UserID           string
	Role             Role
}

// SessionManagerConfig lists the collaborators of a SessionManager.
type SessionManagerConfig struct {
	Users         UserStore
	RefreshTokens RefreshTokenStore
	Codec         *TokenCodec
	Hasher        PasswordHasher
	Clock         Clock
	Logger        *zap.Logger
	Metrics       MetricsRecorder
	RefreshTTL    time.Duration
}

// SessionManager runs login, refresh rotation with reuse detection, and logout.
type SessionManager struct {
	users         UserStore
	refreshTokens RefreshTokenStore
	codec         *TokenCodec
	hasher        PasswordHasher
	clock         Clock
	logger        *zap.Logger
	metrics       MetricsRecorder
	refreshTTL    time.Duration
}

var errSessionManagerIncomplete = errors.New("session.manager.missing_dependency")

// NewSessionManager validates the configuration and fills optional defaults.
func NewSessionManager(configuration SessionManagerConfig) (*SessionManager, error) {
	switch {
	case configuration.Users == nil:
		return nil, fmt.Errorf("%w: user store", errSessionManagerIncomplete)
	case configuration.RefreshTokens == nil:
		return nil, fmt.Errorf("%w: refresh token store", errSessionManagerIncomplete)
	case configuration.Codec == nil:
		return nil, fmt.Errorf("%w: token codec", errSessionManagerIncomplete)
	}
	manager := &SessionManager{
		users:         configuration.Users,
		refreshTokens: configuration.RefreshTokens,
		codec:         configuration.Codec,
		hasher:        configuration.Hasher,
		clock:         configuration.Clock,
		logger:        configuration.Logger,
		metrics:       configuration.Metrics,
		refreshTTL:    configuration.RefreshTTL,
	}
	if manager.hasher == nil {
		manager.hasher = NewBcryptHasher(DefaultBcryptCost)
	}
	if manager.clock == nil {
		manager.clock = NewSystemClock()
	}
	if manager.logger == nil {
		manager.logger = zap.NewNop()
	}
	if manager.metrics == nil {
		manager.metrics = noopMetrics{}
	}
	if manager.refreshTTL <= 0 {
		manager.refreshTTL = DefaultRefreshTTL
	}
	return manager, nil
}

// Login verifies the identifier and password and issues a fresh session pair.
func (manager *SessionManager) Login(ctx context.Context, identifier string, password string, client ClientInfo) (SessionPair, error) {
	pair, err := manager.login(ctx, identifier, password, client)
	if err != nil {
		manager.metrics.Increment(MetricLoginFailure)
		return SessionPair{}, err
	}
	manager.metrics.Increment(MetricLoginSuccess)
	return pair, nil
}

func (manager *SessionManager) login(ctx context.Context, identifier string, password string, client ClientInfo) (SessionPair, error) {
	if strings.TrimSpace(identifier) == "" || password == "" {
		return SessionPair{}, newAuthError(KindValidation, "Invalid Credentials", "Username or Password is missing", ErrCredentialsMissing)
	}
	user, err := manager.users.FindByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return SessionPair{}, newAuthError(KindNotFound, "User not found", "", err)
		}
		return SessionPair{}, internalError(err)
	}
	matches, verifyErr := manager.hasher.Verify(password, user.PasswordHash)
	if verifyErr != nil {
		return SessionPair{}, internalError(verifyErr)
	}
	if !matches {
		return SessionPair{}, newAuthError(KindUnauthorized, "Invalid Credentials", "Entered Password is incorrect", ErrInvalidCredentials)
	}
	pair, issueErr := manager.issue(ctx, user, "", client)
	if issueErr != nil {
		return SessionPair{}, internalError(issueErr)
	}
	manager.logger.Info("session issued", zap.String("code", "session.login.success"), zap.String("user_id", user.ID))
	return pair, nil
}

// Refresh consumes a refresh secret and rotates it. Presenting a revoked
// secret revokes every refresh record of the owning user.
func (manager *SessionManager) Refresh(ctx context.Context, refreshSecret string, client ClientInfo) (SessionPair, error) {
	return manager.RefreshForUser(ctx, "", refreshSecret, client)
}

// RefreshForUser is Refresh bound to the caller's access token: a secret owned
// by a different user is rejected before it is consumed. An empty userID
// skips the binding.
func (manager *SessionManager) RefreshForUser(ctx context.Context, userID string, refreshSecret string, client ClientInfo) (SessionPair, error) {
	pair, err := manager.refresh(ctx, userID, refreshSecret, client)
	if err != nil {
		manager.metrics.Increment(MetricRefreshFailure)
		return SessionPair{}, err
	}
	manager.metrics.Increment(MetricRefreshSuccess)
	return pair, nil
}

func (manager *SessionManager) refresh(ctx context.Context, userID string, refreshSecret string, client ClientInfo) (SessionPair, error) {
	if strings.TrimSpace(refreshSecret) == "" {
		return SessionPair{}, newAuthError(KindUnauthorized, "Please login to continue", "Unauthorized", ErrRefreshTokenMissing)
	}
	record, err := manager.refreshTokens.FindByHash(ctx, HashRefreshSecret(refreshSecret))
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return SessionPair{}, newAuthError(KindUnauthorized, "Please login to continue", "Unauthorized", err)
		}
		return SessionPair{}, internalError(err)
	}
	if record.Revoked {
		return SessionPair{}, manager.handleReuse(ctx, record)
	}
	if userID != "" && record.UserID != userID {
		manager.logger.Warn("refresh token presented by another user",
			zap.String("code", "session.refresh.principal_mismatch"),
			zap.String("user_id", userID),
			zap.String("token_id", record.ID))
		return SessionPair{}, newAuthError(KindUnauthorized, "Please login to continue", "Unauthorized", ErrRefreshTokenMismatch)
	}
	if record.ExpiredAt(manager.clock.Now()) {
		return SessionPair{}, newAuthError(KindUnauthorized, "Please login to continue", "Refresh Token Expired", ErrRefreshTokenExpired)
	}
	if revokeErr := manager.refreshTokens.Revoke(ctx, record.ID); revokeErr != nil {
		if errors.Is(revokeErr, ErrRefreshTokenAlreadyRevoked) {
			// A concurrent refresh consumed the same secret first.
			return SessionPair{}, manager.handleReuse(ctx, record)
		}
		if errors.Is(revokeErr, ErrRefreshTokenNotFound) {
			return SessionPair{}, newAuthError(KindUnauthorized, "Please login to continue", "Unauthorized", revokeErr)
		}
		return SessionPair{}, internalError(revokeErr)
	}
	user, userErr := manager.users.FindByID(ctx, record.UserID)
	if userErr != nil {
		if errors.Is(userErr, ErrUserNotFound) {
			return SessionPair{}, newAuthError(KindUnauthorized, "Please login to continue", "User not found", fmt.Errorf("%w: %v", ErrSessionUserMissing, userErr))
		}
		return SessionPair{}, internalError(userErr)
	}
	pair, issueErr := manager.issue(ctx, user, record.ID, client)
	if issueErr != nil {
		return SessionPair{}, internalError(issueErr)
	}
	manager.logger.Info("session rotated", zap.String("code", "session.refresh.success"), zap.String("user_id", user.ID), zap.String("previous_token_id", record.ID))
	return pair, nil
}

func (manager *SessionManager) handleReuse(ctx context.Context, record RefreshTokenRecord) error {
	manager.metrics.Increment(MetricRefreshReuseDetected)
	revoked, err := manager.refreshTokens.RevokeAllForUser(ctx, record.UserID)
	if err != nil {
		manager.logger.Error("refresh reuse cascade failed", zap.String("code", "session.refresh.reuse_cascade_failed"), zap.String("user_id", record.UserID), zap.Error(err))
		return internalError(err)
	}
	manager.logger.Warn("refresh token reuse detected", zap.String("code", "session.refresh.reuse_detected"), zap.String("user_id", record.UserID), zap.String("token_id", record.ID), zap.Int64("revoked", revoked))
	return newAuthError(KindUnauthorized, "Access Denied", "Security compromised. All tokens revoked.", ErrRefreshTokenReused)
}

// RevokeAll revokes every refresh record of the user.
func (manager *SessionManager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, newAuthError(KindUnauthorized, "Please login to continue", "", ErrAccessTokenMissing)
	}
	revoked, err := manager.refreshTokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, internalError(err)
	}
	manager.metrics.Increment(MetricLogoutSuccess)
	manager.logger.Info("sessions revoked", zap.String("code", "session.logout.success"), zap.String("user_id", userID), zap.Int64("revoked", revoked))
	return revoked, nil
}

// Profile loads the current state of a user.
func (manager *SessionManager) Profile(ctx context.Context, userID string) (User, error) {
	user, err := manager.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, newAuthError(KindNotFound, "User not found", "", err)
		}
		return User{}, internalError(err)
	}
	return user, nil
}

func (manager *SessionManager) issue(ctx context.Context, user User, previousTokenID string, client ClientInfo) (SessionPair, error) {
	accessToken, accessExpiresAt, err := manager.codec.MintAccessToken(user.ID, user.Role)
	if err != nil {
		return SessionPair{}, err
	}
	secret, secretHash, err := generateRefreshSecret()
	if err != nil {
		return SessionPair{}, err
	}
	now := manager.clock.Now().UTC()
	refreshExpiresAt := now.Add(manager.refreshTTL)
	record := RefreshTokenRecord{
		ID:              newRefreshTokenID(),
		UserID:          user.ID,
		TokenHash:       secretHash,
		ExpiresAt:       refreshExpiresAt,
		CreatedAt:       now,
		PreviousTokenID: previousTokenID,
		UserAgent:       truncateUserAgent(client.UserAgent),
		IPHash:          hashClientIP(client.IP),
	}
	if err := manager.refreshTokens.Insert(ctx, record); err != nil {
		return SessionPair{}, err
	}
	return SessionPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshSecret:    secret,
		RefreshExpiresAt: refreshExpiresAt,
		UserID:           user.ID,
		Role:             user.Role,
	}, nil
}

const maxUserAgentLength = 512

func truncateUserAgent(userAgent string) string {
	trimmed := strings.TrimSpace(userAgent)
	if len(trimmed) > maxUserAgentLength {
		return trimmed[:maxUserAgentLength]
	}
	return trimmed
}
