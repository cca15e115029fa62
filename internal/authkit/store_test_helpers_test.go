package authkit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestRecord(userID string, tokenHash string, expiresAt time.Time) RefreshTokenRecord {
	return RefreshTokenRecord{
		ID:        newRefreshTokenID(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt.UTC().Truncate(time.Second),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	databaseURL := "sqlite://" + filepath.ToSlash(filepath.Join(t.TempDir(), "auth.db"))
	database, err := OpenDatabase(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

type refreshStoreUnderTest interface {
	RefreshTokenStore
	ExpiredTokenPurger
}

func refreshStoreFactories() []struct {
	name  string
	store func(t *testing.T) refreshStoreUnderTest
} {
	return []struct {
		name  string
		store func(t *testing.T) refreshStoreUnderTest
	}{
		{
			name: "memory",
			store: func(t *testing.T) refreshStoreUnderTest {
				t.Helper()
				return NewMemoryRefreshTokenStore()
			},
		},
		{
			name: "sqlite",
			store: func(t *testing.T) refreshStoreUnderTest {
				t.Helper()
				return NewDatabaseRefreshTokenStore(openTestDatabase(t))
			},
		},
	}
}

func userStoreFactories() []struct {
	name  string
	store func(t *testing.T) UserStore
} {
	return []struct {
		name  string
		store func(t *testing.T) UserStore
	}{
		{
			name: "memory",
			store: func(t *testing.T) UserStore {
				t.Helper()
				return NewMemoryUserStore()
			},
		},
		{
			name: "sqlite",
			store: func(t *testing.T) UserStore {
				t.Helper()
				return NewDatabaseUserStore(openTestDatabase(t))
			},
		},
	}
}
