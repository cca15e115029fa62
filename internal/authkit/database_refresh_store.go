package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DatabaseRefreshTokenStore persists refresh token records using GORM.
type DatabaseRefreshTokenStore struct {
	db          *gorm.DB
	driverLabel string
}

type refreshTokenRow struct {
	TokenID         string `gorm:"column:token_id;primaryKey"`
	UserID          string `gorm:"column:user_id;index;not null"`
	TokenHash       string `gorm:"column:token_hash;uniqueIndex;not null"`
	ExpiresUnixNano int64  `gorm:"column:expires_unix_nano;index;not null"`
	Revoked         bool   `gorm:"column:revoked;not null;default:false"`
	PreviousTokenID string `gorm:"column:previous_token_id;not null;default:''"`
	UserAgent       string `gorm:"column:user_agent;not null;default:''"`
	IPHash          string `gorm:"column:ip_hash;not null;default:''"`
	CreatedUnixNano int64  `gorm:"column:created_unix_nano;not null"`
}

func (refreshTokenRow) TableName() string {
	return "refresh_tokens"
}

func newRefreshTokenRow(record RefreshTokenRecord) refreshTokenRow {
	return refreshTokenRow{
		TokenID:         record.ID,
		UserID:          record.UserID,
		TokenHash:       record.TokenHash,
		ExpiresUnixNano: record.ExpiresAt.UnixNano(),
		Revoked:         record.Revoked,
		PreviousTokenID: record.PreviousTokenID,
		UserAgent:       record.UserAgent,
		IPHash:          record.IPHash,
		CreatedUnixNano: record.CreatedAt.UnixNano(),
	}
}

func (row refreshTokenRow) record() RefreshTokenRecord {
	return RefreshTokenRecord{
		ID:              row.TokenID,
		UserID:          row.UserID,
		TokenHash:       row.TokenHash,
		ExpiresAt:       time.Unix(0, row.ExpiresUnixNano).UTC(),
		Revoked:         row.Revoked,
		CreatedAt:       time.Unix(0, row.CreatedUnixNano).UTC(),
		PreviousTokenID: row.PreviousTokenID,
		UserAgent:       row.UserAgent,
		IPHash:          row.IPHash,
	}
}

// NewDatabaseRefreshTokenStore binds a refresh store to an opened database.
func NewDatabaseRefreshTokenStore(database *Database) *DatabaseRefreshTokenStore {
	return &DatabaseRefreshTokenStore{
		db:          database.db,
		driverLabel: database.driverLabel,
	}
}

// Driver exposes the selected database driver label.
func (store *DatabaseRefreshTokenStore) Driver() string {
	return store.driverLabel
}

// Insert persists a new refresh token record.
func (store *DatabaseRefreshTokenStore) Insert(ctx context.Context, record RefreshTokenRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("refresh_store.insert.%s: %w", store.driverLabel, err)
	}
	row := newRefreshTokenRow(record)
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("refresh_store.insert.%s: %w", store.driverLabel, ErrRefreshTokenDuplicate)
		}
		return fmt.Errorf("refresh_store.insert.%s: %w", store.driverLabel, err)
	}
	return nil
}

// FindByHash locates a refresh token by the hash of its secret.
func (store *DatabaseRefreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (RefreshTokenRecord, error) {
	var row refreshTokenRow
	err := store.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.%s: %w", store.driverLabel, ErrRefreshTokenNotFound)
		}
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.%s: %w", store.driverLabel, err)
	}
	return row.record(), nil
}

// Revoke flips revoked to true only when it is currently false.
func (store *DatabaseRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	result := store.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("token_id = ? AND revoked = ?", tokenID, false).
		Update("revoked", true)
	if result.Error != nil {
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	var row refreshTokenRow
	findErr := store.db.WithContext(ctx).Where("token_id = ?", tokenID).Take(&row).Error
	if errors.Is(findErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, ErrRefreshTokenNotFound)
	}
	if findErr != nil {
		return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, findErr)
	}
	return fmt.Errorf("refresh_store.revoke.%s: %w", store.driverLabel, ErrRefreshTokenAlreadyRevoked)
}

// RevokeAllForUser revokes every active record of the user.
func (store *DatabaseRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	result := store.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true)
	if result.Error != nil {
		return 0, fmt.Errorf("refresh_store.revoke_all.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeExpired deletes records whose expiry is before now.
func (store *DatabaseRefreshTokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := store.db.WithContext(ctx).
		Where("expires_unix_nano < ?", now.UnixNano()).
		Delete(&refreshTokenRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("refresh_store.purge.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}
