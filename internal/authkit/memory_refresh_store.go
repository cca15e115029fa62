package authkit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRefreshTokenStore is an in-memory store intended for tests and dev.
type MemoryRefreshTokenStore struct {
	mutex  sync.Mutex
	byID   map[string]*RefreshTokenRecord
	byHash map[string]string
	byUser map[string]map[string]struct{}
}

// NewMemoryRefreshTokenStore creates a new in-memory token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		byID:   make(map[string]*RefreshTokenRecord),
		byHash: make(map[string]string),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Insert stores a new record; the token hash must be unique.
func (store *MemoryRefreshTokenStore) Insert(ctx context.Context, record RefreshTokenRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("refresh_store.insert.memory: %w", err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, exists := store.byHash[record.TokenHash]; exists {
		return fmt.Errorf("refresh_store.insert.memory: %w", ErrRefreshTokenDuplicate)
	}
	if _, exists := store.byID[record.ID]; exists {
		return fmt.Errorf("refresh_store.insert.memory: %w", ErrRefreshTokenDuplicate)
	}
	stored := record
	store.byID[record.ID] = &stored
	store.byHash[record.TokenHash] = record.ID
	userTokens, ok := store.byUser[record.UserID]
	if !ok {
		userTokens = make(map[string]struct{})
		store.byUser[record.UserID] = userTokens
	}
	userTokens[record.ID] = struct{}{}
	return nil
}

// FindByHash returns a copy of the record with the given hash.
func (store *MemoryRefreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (RefreshTokenRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID, ok := store.byHash[tokenHash]
	if !ok {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.memory: %w", ErrRefreshTokenNotFound)
	}
	record := store.byID[tokenID]
	if record == nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.memory: %w", ErrRefreshTokenNotFound)
	}
	return *record, nil
}

// Revoke marks a token as revoked if it is not already.
func (store *MemoryRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.byID[tokenID]
	if record == nil {
		return fmt.Errorf("refresh_store.revoke.memory: %w", ErrRefreshTokenNotFound)
	}
	if record.Revoked {
		return fmt.Errorf("refresh_store.revoke.memory: %w", ErrRefreshTokenAlreadyRevoked)
	}
	record.Revoked = true
	return nil
}

// RevokeAllForUser revokes every active record of the user.
func (store *MemoryRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	var revoked int64
	for tokenID := range store.byUser[userID] {
		record := store.byID[tokenID]
		if record == nil || record.Revoked {
			continue
		}
		record.Revoked = true
		revoked++
	}
	return revoked, nil
}

// PurgeExpired deletes records whose expiry is before now.
func (store *MemoryRefreshTokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	var purged int64
	for tokenID, record := range store.byID {
		if !record.ExpiresAt.Before(now) {
			continue
		}
		delete(store.byID, tokenID)
		delete(store.byHash, record.TokenHash)
		if userTokens, ok := store.byUser[record.UserID]; ok {
			delete(userTokens, tokenID)
			if len(userTokens) == 0 {
				delete(store.byUser, record.UserID)
			}
		}
		purged++
	}
	return purged, nil
}
