package authkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type sessionFixture struct {
	manager       *SessionManager
	users         *MemoryUserStore
	refreshTokens *MemoryRefreshTokenStore
	codec         *TokenCodec
	clock         *controllableClock
	metrics       *CounterMetrics
	user          User
}

const fixturePassword = "correct-horse"

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	hasher := NewBcryptHasher(bcrypt.MinCost)
	users := NewMemoryUserStore()
	refreshTokens := NewMemoryRefreshTokenStore()
	metrics := NewCounterMetrics()

	codec, err := NewTokenCodec([]byte("test-signing-key"), "rbac-auth-test", DefaultAccessTTL, clock)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	passwordHash, err := hasher.Hash(fixturePassword)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	user := User{
		ID:           "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: passwordHash,
		Role:         RoleUser,
		CreatedAt:    clock.Now(),
		UpdatedAt:    clock.Now(),
	}
	if _, err := users.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user error: %v", err)
	}

	manager, err := NewSessionManager(SessionManagerConfig{
		Users:         users,
		RefreshTokens: refreshTokens,
		Codec:         codec,
		Hasher:        hasher,
		Clock:         clock,
		Logger:        zaptest.NewLogger(t),
		Metrics:       metrics,
		RefreshTTL:    DefaultRefreshTTL,
	})
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	return &sessionFixture{
		manager:       manager,
		users:         users,
		refreshTokens: refreshTokens,
		codec:         codec,
		clock:         clock,
		metrics:       metrics,
		user:          user,
	}
}

func (fixture *sessionFixture) login(t *testing.T) SessionPair {
	t.Helper()
	pair, err := fixture.manager.Login(context.Background(), "alice", fixturePassword, ClientInfo{})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return pair
}

func requireAuthError(t *testing.T, err error, kind ErrorKind, message string, sentinel error) *AuthError {
	t.Helper()
	var authError *AuthError
	if !errors.As(err, &authError) {
		t.Fatalf("expected *AuthError, got %T (%v)", err, err)
	}
	if authError.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, authError.Kind, err)
	}
	if message != "" && authError.Message != message {
		t.Fatalf("expected message %q, got %q", message, authError.Message)
	}
	if sentinel != nil && !errors.Is(err, sentinel) {
		t.Fatalf("expected %v in chain, got %v", sentinel, err)
	}
	return authError
}

func TestNewSessionManagerRequiresCollaborators(t *testing.T) {
	if _, err := NewSessionManager(SessionManagerConfig{}); !errors.Is(err, errSessionManagerIncomplete) {
		t.Fatalf("expected errSessionManagerIncomplete, got %v", err)
	}
	if _, err := NewSessionManager(SessionManagerConfig{Users: NewMemoryUserStore()}); !errors.Is(err, errSessionManagerIncomplete) {
		t.Fatalf("expected errSessionManagerIncomplete, got %v", err)
	}
}

func TestLoginIssuesSessionPair(t *testing.T) {
	fixture := newSessionFixture(t)

	pair, err := fixture.manager.Login(context.Background(), "Alice", fixturePassword, ClientInfo{UserAgent: "agent/1.0", IP: "192.0.2.10"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if pair.UserID != fixture.user.ID || pair.Role != RoleUser {
		t.Fatalf("unexpected pair identity: %#v", pair)
	}
	if len(pair.RefreshSecret) != refreshSecretByteLength*2 {
		t.Fatalf("expected %d hex chars, got %d", refreshSecretByteLength*2, len(pair.RefreshSecret))
	}
	if !pair.AccessExpiresAt.Equal(fixture.clock.Now().Add(DefaultAccessTTL)) {
		t.Fatalf("unexpected access expiry %v", pair.AccessExpiresAt)
	}
	if !pair.RefreshExpiresAt.Equal(fixture.clock.Now().Add(DefaultRefreshTTL)) {
		t.Fatalf("unexpected refresh expiry %v", pair.RefreshExpiresAt)
	}

	claims, err := fixture.codec.VerifyAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.UserID != fixture.user.ID || claims.Role != string(RoleUser) {
		t.Fatalf("unexpected claims %#v", claims)
	}

	record, err := fixture.refreshTokens.FindByHash(context.Background(), HashRefreshSecret(pair.RefreshSecret))
	if err != nil {
		t.Fatalf("refresh record missing: %v", err)
	}
	if record.Revoked || record.UserID != fixture.user.ID || record.PreviousTokenID != "" {
		t.Fatalf("unexpected record %#v", record)
	}
	if record.TokenHash == pair.RefreshSecret {
		t.Fatalf("refresh secret must not be stored in plaintext")
	}
	if record.UserAgent != "agent/1.0" || record.IPHash != hashClientIP("192.0.2.10") {
		t.Fatalf("expected client metadata, got %#v", record)
	}
	if fixture.metrics.Count(MetricLoginSuccess) != 1 {
		t.Fatalf("expected login success metric")
	}
}

func TestLoginAcceptsEmail(t *testing.T) {
	fixture := newSessionFixture(t)
	pair, err := fixture.manager.Login(context.Background(), "ALICE@example.com", fixturePassword, ClientInfo{})
	if err != nil {
		t.Fatalf("login by email failed: %v", err)
	}
	if pair.UserID != fixture.user.ID {
		t.Fatalf("unexpected user %s", pair.UserID)
	}
}

func TestLoginFailures(t *testing.T) {
	fixture := newSessionFixture(t)

	testCases := []struct {
		name       string
		identifier string
		password   string
		kind       ErrorKind
		message    string
		debug      string
		sentinel   error
	}{
		{name: "missing identifier", identifier: " ", password: fixturePassword, kind: KindValidation, message: "Invalid Credentials", debug: "Username or Password is missing", sentinel: ErrCredentialsMissing},
		{name: "missing password", identifier: "alice", password: "", kind: KindValidation, message: "Invalid Credentials", debug: "Username or Password is missing", sentinel: ErrCredentialsMissing},
		{name: "unknown user", identifier: "mallory", password: fixturePassword, kind: KindNotFound, message: "User not found", sentinel: ErrUserNotFound},
		{name: "wrong password", identifier: "alice", password: "wrong-password", kind: KindUnauthorized, message: "Invalid Credentials", debug: "Entered Password is incorrect", sentinel: ErrInvalidCredentials},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := fixture.manager.Login(context.Background(), testCase.identifier, testCase.password, ClientInfo{})
			authError := requireAuthError(t, err, testCase.kind, testCase.message, testCase.sentinel)
			if testCase.debug != "" && authError.Debug != testCase.debug {
				t.Fatalf("expected debug %q, got %q", testCase.debug, authError.Debug)
			}
		})
	}
	if fixture.metrics.Count(MetricLoginFailure) != int64(len(testCases)) {
		t.Fatalf("expected %d login failures, got %d", len(testCases), fixture.metrics.Count(MetricLoginFailure))
	}
	fixture.refreshTokens.mutex.Lock()
	stored := len(fixture.refreshTokens.byID)
	fixture.refreshTokens.mutex.Unlock()
	if stored != 0 {
		t.Fatalf("failed logins must not create refresh records, found %d", stored)
	}
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	first := fixture.login(t)
	firstRecord, err := fixture.refreshTokens.FindByHash(ctx, HashRefreshSecret(first.RefreshSecret))
	if err != nil {
		t.Fatalf("first record missing: %v", err)
	}

	fixture.clock.Advance(3 * time.Hour)
	second, err := fixture.manager.Refresh(ctx, first.RefreshSecret, ClientInfo{})
	if err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if second.RefreshSecret == first.RefreshSecret || second.AccessToken == first.AccessToken {
		t.Fatalf("expected rotated credentials")
	}
	if !second.RefreshExpiresAt.Equal(fixture.clock.Now().Add(DefaultRefreshTTL)) {
		t.Fatalf("expected fresh refresh expiry, got %v", second.RefreshExpiresAt)
	}
	consumed, err := fixture.refreshTokens.FindByHash(ctx, HashRefreshSecret(first.RefreshSecret))
	if err != nil {
		t.Fatalf("consumed record missing: %v", err)
	}
	if !consumed.Revoked {
		t.Fatalf("expected consumed record to be revoked")
	}
	secondRecord, err := fixture.refreshTokens.FindByHash(ctx, HashRefreshSecret(second.RefreshSecret))
	if err != nil {
		t.Fatalf("rotated record missing: %v", err)
	}
	if secondRecord.Revoked || secondRecord.PreviousTokenID != firstRecord.ID {
		t.Fatalf("unexpected rotated record %#v", secondRecord)
	}

	_, reuseErr := fixture.manager.Refresh(ctx, first.RefreshSecret, ClientInfo{})
	authError := requireAuthError(t, reuseErr, KindUnauthorized, "Access Denied", ErrRefreshTokenReused)
	if authError.Debug != "Security compromised. All tokens revoked." {
		t.Fatalf("unexpected debug message %q", authError.Debug)
	}
	cascaded, err := fixture.refreshTokens.FindByHash(ctx, HashRefreshSecret(second.RefreshSecret))
	if err != nil {
		t.Fatalf("rotated record missing after cascade: %v", err)
	}
	if !cascaded.Revoked {
		t.Fatalf("expected reuse to revoke the rotated record")
	}

	_, afterErr := fixture.manager.Refresh(ctx, second.RefreshSecret, ClientInfo{})
	requireAuthError(t, afterErr, KindUnauthorized, "Access Denied", ErrRefreshTokenReused)

	if fixture.metrics.Count(MetricRefreshSuccess) != 1 {
		t.Fatalf("expected one refresh success, got %d", fixture.metrics.Count(MetricRefreshSuccess))
	}
	if fixture.metrics.Count(MetricRefreshReuseDetected) != 2 {
		t.Fatalf("expected two reuse detections, got %d", fixture.metrics.Count(MetricRefreshReuseDetected))
	}
}

func TestRefreshLoadsCurrentRole(t *testing.T) {
	fixture := newSessionFixture(t)
	pair := fixture.login(t)

	fixture.users.mutex.Lock()
	promoted := fixture.users.byID[fixture.user.ID]
	promoted.Role = RoleAdmin
	fixture.users.byID[fixture.user.ID] = promoted
	fixture.users.mutex.Unlock()

	rotated, err := fixture.manager.Refresh(context.Background(), pair.RefreshSecret, ClientInfo{})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if rotated.Role != RoleAdmin {
		t.Fatalf("expected role from the user store, got %s", rotated.Role)
	}
	claims, err := fixture.codec.VerifyAccessToken(rotated.AccessToken)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.Role != string(RoleAdmin) {
		t.Fatalf("expected ADMIN claim, got %s", claims.Role)
	}
}

func TestRefreshExpiry(t *testing.T) {
	fixture := newSessionFixture(t)
	pair := fixture.login(t)

	fixture.clock.Advance(DefaultRefreshTTL)
	atBoundary, err := fixture.manager.Refresh(context.Background(), pair.RefreshSecret, ClientInfo{})
	if err != nil {
		t.Fatalf("expected refresh at the exact expiry instant to succeed, got %v", err)
	}

	fixture.clock.Advance(DefaultRefreshTTL + time.Second)
	_, expiredErr := fixture.manager.Refresh(context.Background(), atBoundary.RefreshSecret, ClientInfo{})
	authError := requireAuthError(t, expiredErr, KindUnauthorized, "Please login to continue", ErrRefreshTokenExpired)
	if authError.Debug != "Refresh Token Expired" {
		t.Fatalf("unexpected debug %q", authError.Debug)
	}
	record, err := fixture.refreshTokens.FindByHash(context.Background(), HashRefreshSecret(atBoundary.RefreshSecret))
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if record.Revoked {
		t.Fatalf("expired records are rejected without being revoked")
	}
}

func TestRefreshRejectsMissingAndUnknownSecrets(t *testing.T) {
	fixture := newSessionFixture(t)

	_, emptyErr := fixture.manager.Refresh(context.Background(), "", ClientInfo{})
	requireAuthError(t, emptyErr, KindUnauthorized, "Please login to continue", ErrRefreshTokenMissing)

	_, unknownErr := fixture.manager.Refresh(context.Background(), "deadbeef", ClientInfo{})
	requireAuthError(t, unknownErr, KindUnauthorized, "Please login to continue", ErrRefreshTokenNotFound)

	if fixture.metrics.Count(MetricRefreshReuseDetected) != 0 {
		t.Fatalf("unknown secrets must not trigger reuse handling")
	}
}

func TestRefreshForUserRejectsForeignSecretWithoutConsumingIt(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()
	pair := fixture.login(t)

	_, mismatchErr := fixture.manager.RefreshForUser(ctx, "user-2", pair.RefreshSecret, ClientInfo{})
	requireAuthError(t, mismatchErr, KindUnauthorized, "Please login to continue", ErrRefreshTokenMismatch)
	record, err := fixture.refreshTokens.FindByHash(ctx, HashRefreshSecret(pair.RefreshSecret))
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if record.Revoked {
		t.Fatalf("a mismatched refresh must not consume the secret")
	}

	if _, err := fixture.manager.RefreshForUser(ctx, fixture.user.ID, pair.RefreshSecret, ClientInfo{}); err != nil {
		t.Fatalf("owner refresh failed: %v", err)
	}
	if fixture.metrics.Count(MetricRefreshReuseDetected) != 0 {
		t.Fatalf("a mismatch must not be treated as reuse")
	}
}

func TestRefreshFailsWhenUserDeleted(t *testing.T) {
	fixture := newSessionFixture(t)
	pair := fixture.login(t)

	if err := fixture.users.DeleteUser(context.Background(), fixture.user.ID); err != nil {
		t.Fatalf("delete user failed: %v", err)
	}
	_, err := fixture.manager.Refresh(context.Background(), pair.RefreshSecret, ClientInfo{})
	authError := requireAuthError(t, err, KindUnauthorized, "Please login to continue", ErrSessionUserMissing)
	if authError.Debug != "User not found" {
		t.Fatalf("unexpected debug %q", authError.Debug)
	}

	fixture.refreshTokens.mutex.Lock()
	stored := len(fixture.refreshTokens.byID)
	fixture.refreshTokens.mutex.Unlock()
	if stored != 1 {
		t.Fatalf("expected no replacement record, found %d records", stored)
	}
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	fixture := newSessionFixture(t)
	pair := fixture.login(t)

	const contenders = 10
	var group sync.WaitGroup
	var mutex sync.Mutex
	successes := 0
	reuses := 0
	start := make(chan struct{})
	for index := 0; index < contenders; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			<-start
			_, err := fixture.manager.Refresh(context.Background(), pair.RefreshSecret, ClientInfo{})
			mutex.Lock()
			defer mutex.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrRefreshTokenReused):
				reuses++
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	close(start)
	group.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful refresh, got %d", successes)
	}
	if reuses != contenders-1 {
		t.Fatalf("expected %d reuse detections, got %d", contenders-1, reuses)
	}
}

func TestRevokeAllEndsEverySession(t *testing.T) {
	fixture := newSessionFixture(t)
	first := fixture.login(t)
	second := fixture.login(t)

	revoked, err := fixture.manager.RevokeAll(context.Background(), fixture.user.ID)
	if err != nil {
		t.Fatalf("revoke all failed: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", revoked)
	}
	for _, pair := range []SessionPair{first, second} {
		_, refreshErr := fixture.manager.Refresh(context.Background(), pair.RefreshSecret, ClientInfo{})
		requireAuthError(t, refreshErr, KindUnauthorized, "Access Denied", ErrRefreshTokenReused)
	}
	if fixture.metrics.Count(MetricLogoutSuccess) != 1 {
		t.Fatalf("expected logout metric")
	}

	if _, err := fixture.manager.RevokeAll(context.Background(), ""); KindOf(err) != KindUnauthorized {
		t.Fatalf("expected unauthorized for empty user id, got %v", err)
	}
}

type failingRefreshStore struct {
	*MemoryRefreshTokenStore
	insertErr error
}

func (store failingRefreshStore) Insert(ctx context.Context, record RefreshTokenRecord) error {
	return store.insertErr
}

func TestLoginSurfacesStoreFailuresAsInternal(t *testing.T) {
	fixture := newSessionFixture(t)
	manager, err := NewSessionManager(SessionManagerConfig{
		Users:         fixture.users,
		RefreshTokens: failingRefreshStore{MemoryRefreshTokenStore: NewMemoryRefreshTokenStore(), insertErr: errors.New("disk full")},
		Codec:         fixture.codec,
		Hasher:        NewBcryptHasher(bcrypt.MinCost),
		Clock:         fixture.clock,
	})
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	_, loginErr := manager.Login(context.Background(), "alice", fixturePassword, ClientInfo{})
	authError := requireAuthError(t, loginErr, KindInternal, "Internal Server Error", nil)
	if authError.Debug != "" {
		t.Fatalf("internal errors must not carry debug detail, got %q", authError.Debug)
	}
}

func TestProfileLoadsUser(t *testing.T) {
	fixture := newSessionFixture(t)
	user, err := fixture.manager.Profile(context.Background(), fixture.user.ID)
	if err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("unexpected user %#v", user)
	}
	_, missingErr := fixture.manager.Profile(context.Background(), "missing")
	requireAuthError(t, missingErr, KindNotFound, "User not found", ErrUserNotFound)
}
