package authkitpg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tyemirov/rbacauth/internal/authkit"
)

const uniqueViolationCode = "23505"

// RefreshTokenStore persists refresh token records in PostgreSQL.
type RefreshTokenStore struct {
	db DB
}

// NewRefreshTokenStore wraps an open database handle.
func NewRefreshTokenStore(db DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db}
}

const insertRefreshToken = `
INSERT INTO session_refresh_tokens (token_id, user_id, token_hash, expires_at, revoked, previous_token_id, user_agent, ip_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Insert persists a new record.
func (store *RefreshTokenStore) Insert(ctx context.Context, record authkit.RefreshTokenRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("refresh_store.insert.pgx: %w", err)
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := store.db.ExecContext(ctx, insertRefreshToken,
		record.ID, record.UserID, record.TokenHash, record.ExpiresAt.UTC(), record.Revoked,
		record.PreviousTokenID, record.UserAgent, record.IPHash, createdAt.UTC())
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == uniqueViolationCode {
			return fmt.Errorf("refresh_store.insert.pgx: %w", authkit.ErrRefreshTokenDuplicate)
		}
		return fmt.Errorf("refresh_store.insert.pgx: %w", err)
	}
	return nil
}

const selectRefreshTokenByHash = `
SELECT token_id, user_id, token_hash, expires_at, revoked, previous_token_id, user_agent, ip_hash, created_at
FROM session_refresh_tokens
WHERE token_hash = $1`

// FindByHash locates a record by the hash of its secret.
func (store *RefreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (authkit.RefreshTokenRecord, error) {
	var record authkit.RefreshTokenRecord
	err := store.db.QueryRowContext(ctx, selectRefreshTokenByHash, tokenHash).Scan(
		&record.ID, &record.UserID, &record.TokenHash, &record.ExpiresAt, &record.Revoked,
		&record.PreviousTokenID, &record.UserAgent, &record.IPHash, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.pgx: %w", authkit.ErrRefreshTokenNotFound)
		}
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.pgx: %w", err)
	}
	record.ExpiresAt = record.ExpiresAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

const revokeRefreshToken = `
UPDATE session_refresh_tokens
SET revoked = TRUE
WHERE token_id = $1 AND revoked = FALSE`

const selectRevokedFlag = `
SELECT revoked FROM session_refresh_tokens WHERE token_id = $1`

// Revoke flips revoked to true only when it is currently false.
func (store *RefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	result, err := store.db.ExecContext(ctx, revokeRefreshToken, tokenID)
	if err != nil {
		return fmt.Errorf("refresh_store.revoke.pgx: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("refresh_store.revoke.pgx: %w", err)
	}
	if affected == 1 {
		return nil
	}
	var revoked bool
	if err := store.db.QueryRowContext(ctx, selectRevokedFlag, tokenID).Scan(&revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("refresh_store.revoke.pgx: %w", authkit.ErrRefreshTokenNotFound)
		}
		return fmt.Errorf("refresh_store.revoke.pgx: %w", err)
	}
	return fmt.Errorf("refresh_store.revoke.pgx: %w", authkit.ErrRefreshTokenAlreadyRevoked)
}

const revokeAllRefreshTokens = `
UPDATE session_refresh_tokens
SET revoked = TRUE
WHERE user_id = $1 AND revoked = FALSE`

// RevokeAllForUser revokes every active record of the user.
func (store *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := store.db.ExecContext(ctx, revokeAllRefreshTokens, userID)
	if err != nil {
		return 0, fmt.Errorf("refresh_store.revoke_all.pgx: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("refresh_store.revoke_all.pgx: %w", err)
	}
	return affected, nil
}

const purgeExpiredRefreshTokens = `
DELETE FROM session_refresh_tokens
WHERE expires_at < $1`

// PurgeExpired deletes records whose expiry is before now.
func (store *RefreshTokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := store.db.ExecContext(ctx, purgeExpiredRefreshTokens, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("refresh_store.purge.pgx: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("refresh_store.purge.pgx: %w", err)
	}
	return affected, nil
}
