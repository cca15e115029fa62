package authkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryUserStore keeps users in memory for tests and dev.
type MemoryUserStore struct {
	mutex      sync.RWMutex
	byID       map[string]User
	byUsername map[string]string
}

// NewMemoryUserStore creates an empty user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:       make(map[string]User),
		byUsername: make(map[string]string),
	}
}

// CreateUser inserts the user; the username must be unique.
func (store *MemoryUserStore) CreateUser(ctx context.Context, user User) (User, error) {
	if err := user.Validate(); err != nil {
		return User{}, fmt.Errorf("user_store.create.memory: %w", err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, exists := store.byUsername[user.Username]; exists {
		return User{}, fmt.Errorf("user_store.create.memory: %w", ErrUserExists)
	}
	if _, exists := store.byID[user.ID]; exists {
		return User{}, fmt.Errorf("user_store.create.memory: %w", ErrUserExists)
	}
	store.byID[user.ID] = user
	store.byUsername[user.Username] = user.ID
	return user, nil
}

// FindByLogin matches login against the username or the email.
func (store *MemoryUserStore) FindByLogin(ctx context.Context, login string) (User, error) {
	normalized := strings.ToLower(strings.TrimSpace(login))
	store.mutex.RLock()
	defer store.mutex.RUnlock()

	if normalized != "" {
		if userID, ok := store.byUsername[normalized]; ok {
			return store.byID[userID], nil
		}
		for _, user := range sortedUsers(store.byID) {
			if user.Email != "" && user.Email == normalized {
				return user, nil
			}
		}
	}
	return User{}, fmt.Errorf("user_store.find_login.memory: %w", ErrUserNotFound)
}

// FindByID loads a user by identifier.
func (store *MemoryUserStore) FindByID(ctx context.Context, userID string) (User, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()

	user, ok := store.byID[userID]
	if !ok {
		return User{}, fmt.Errorf("user_store.find_id.memory: %w", ErrUserNotFound)
	}
	return user, nil
}

// ListUsers returns every user ordered by creation time.
func (store *MemoryUserStore) ListUsers(ctx context.Context) ([]User, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return sortedUsers(store.byID), nil
}

// DeleteUser removes a user; used by operators and tests.
func (store *MemoryUserStore) DeleteUser(ctx context.Context, userID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	user, ok := store.byID[userID]
	if !ok {
		return fmt.Errorf("user_store.delete.memory: %w", ErrUserNotFound)
	}
	delete(store.byID, userID)
	delete(store.byUsername, user.Username)
	return nil
}

func sortedUsers(byID map[string]User) []User {
	users := make([]User, 0, len(byID))
	for _, user := range byID {
		users = append(users, user)
	}
	sort.Slice(users, func(left, right int) bool {
		if users[left].CreatedAt.Equal(users[right].CreatedAt) {
			return users[left].Username < users[right].Username
		}
		return users[left].CreatedAt.Before(users[right].CreatedAt)
	})
	return users
}
