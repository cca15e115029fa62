// Package authkitredis stores refresh tokens in Redis. Records carry an
// EXPIREAT so Redis collects them on its own; PurgeExpired cleans the
// indexes that outlive them.
package authkitredis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tyemirov/rbacauth/internal/authkit"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "rbac"

// DefaultRetention keeps records readable briefly past their expiry so that
// late refreshes are reported as expired rather than unknown.
const DefaultRetention = time.Minute

const (
	insertStatusDuplicate int64 = 0
	insertStatusInserted  int64 = 1

	revokeStatusMissing int64 = -1
	revokeStatusAlready int64 = 0
	revokeStatusRevoked int64 = 1
)

const insertScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
if redis.call("SETNX", KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1],
  "user_id", ARGV[2],
  "token_hash", ARGV[3],
  "expires_at", ARGV[4],
  "revoked", ARGV[5],
  "previous_token_id", ARGV[6],
  "user_agent", ARGV[7],
  "ip_hash", ARGV[8],
  "created_at", ARGV[9])
redis.call("EXPIREAT", KEYS[1], ARGV[10])
redis.call("EXPIREAT", KEYS[2], ARGV[10])
redis.call("SADD", KEYS[3], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[11], ARGV[1])
redis.call("HSET", KEYS[5], ARGV[1], ARGV[2])
return 1
`

const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
return 1
`

const revokeAllScript = `
local prefix = ARGV[1]
local members = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, tokenID in ipairs(members) do
  local recordKey = prefix .. ":rt:" .. tokenID
  if redis.call("EXISTS", recordKey) == 0 then
    redis.call("SREM", KEYS[1], tokenID)
  elseif redis.call("HGET", recordKey, "revoked") ~= "1" then
    redis.call("HSET", recordKey, "revoked", "1")
    revoked = revoked + 1
  end
end
return revoked
`

const purgeScript = `
local prefix = ARGV[1]
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2])
for _, tokenID in ipairs(expired) do
  local recordKey = prefix .. ":rt:" .. tokenID
  local tokenHash = redis.call("HGET", recordKey, "token_hash")
  if tokenHash then
    redis.call("DEL", prefix .. ":rth:" .. tokenHash)
  end
  redis.call("DEL", recordKey)
  local owner = redis.call("HGET", KEYS[2], tokenID)
  if owner then
    redis.call("SREM", prefix .. ":user:" .. owner, tokenID)
  end
  redis.call("HDEL", KEYS[2], tokenID)
  redis.call("ZREM", KEYS[1], tokenID)
end
return #expired
`

var (
	insertLua    = redis.NewScript(insertScript)
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
	purgeLua     = redis.NewScript(purgeScript)
)

// Options tune key naming and retention.
type Options struct {
	Prefix    string
	Retention time.Duration
}

// RefreshTokenStore keeps refresh token records in Redis hashes.
type RefreshTokenStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRefreshTokenStore wraps a connected client.
func NewRefreshTokenStore(client redis.UniversalClient, options Options) *RefreshTokenStore {
	prefix := strings.TrimSpace(options.Prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	retention := options.Retention
	switch {
	case retention == 0:
		retention = DefaultRetention
	case retention < 0:
		retention = 0
	}
	return &RefreshTokenStore{client: client, prefix: prefix, retention: retention}
}

// Open parses a redis:// URL, connects, and pings.
func Open(ctx context.Context, redisURL string, options Options) (*RefreshTokenStore, func() error, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("refresh_store.redis.parse_url: %w", err)
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("refresh_store.redis.ping: %w", err)
	}
	return NewRefreshTokenStore(client, options), client.Close, nil
}

func (store *RefreshTokenStore) recordKey(tokenID string) string {
	return store.prefix + ":rt:" + tokenID
}

func (store *RefreshTokenStore) hashKey(tokenHash string) string {
	return store.prefix + ":rth:" + tokenHash
}

func (store *RefreshTokenStore) userKey(userID string) string {
	return store.prefix + ":user:" + userID
}

func (store *RefreshTokenStore) expiryKey() string {
	return store.prefix + ":rt:expiry"
}

func (store *RefreshTokenStore) ownerKey() string {
	return store.prefix + ":rt:owner"
}

// Insert stores the record and its indexes atomically.
func (store *RefreshTokenStore) Insert(ctx context.Context, record authkit.RefreshTokenRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("refresh_store.insert.redis: %w", err)
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	evictAt := record.ExpiresAt.Add(store.retention)
	status, err := insertLua.Run(ctx, store.client,
		[]string{
			store.recordKey(record.ID),
			store.hashKey(record.TokenHash),
			store.userKey(record.UserID),
			store.expiryKey(),
			store.ownerKey(),
		},
		record.ID,
		record.UserID,
		record.TokenHash,
		strconv.FormatInt(record.ExpiresAt.UnixNano(), 10),
		encodeBool(record.Revoked),
		record.PreviousTokenID,
		record.UserAgent,
		record.IPHash,
		strconv.FormatInt(createdAt.UnixNano(), 10),
		strconv.FormatInt(ceilUnix(evictAt), 10),
		strconv.FormatInt(ceilUnix(record.ExpiresAt), 10),
	).Int64()
	if err != nil {
		return fmt.Errorf("refresh_store.insert.redis: %w", err)
	}
	if status == insertStatusDuplicate {
		return fmt.Errorf("refresh_store.insert.redis: %w", authkit.ErrRefreshTokenDuplicate)
	}
	if status != insertStatusInserted {
		return fmt.Errorf("refresh_store.insert.redis: unexpected status %d", status)
	}
	return nil
}

// FindByHash resolves the hash index and loads the record.
func (store *RefreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (authkit.RefreshTokenRecord, error) {
	tokenID, err := store.client.Get(ctx, store.hashKey(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.redis: %w", authkit.ErrRefreshTokenNotFound)
		}
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.redis: %w", err)
	}
	fields, err := store.client.HGetAll(ctx, store.recordKey(tokenID)).Result()
	if err != nil {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.redis: %w", err)
	}
	if len(fields) == 0 {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.redis: %w", authkit.ErrRefreshTokenNotFound)
	}
	record, err := decodeRecord(fields)
	if err != nil {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.redis: %w", err)
	}
	return record, nil
}

// Revoke flips revoked to true only when it is currently false.
func (store *RefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	status, err := revokeLua.Run(ctx, store.client, []string{store.recordKey(tokenID)}).Int64()
	if err != nil {
		return fmt.Errorf("refresh_store.revoke.redis: %w", err)
	}
	switch status {
	case revokeStatusRevoked:
		return nil
	case revokeStatusAlready:
		return fmt.Errorf("refresh_store.revoke.redis: %w", authkit.ErrRefreshTokenAlreadyRevoked)
	case revokeStatusMissing:
		return fmt.Errorf("refresh_store.revoke.redis: %w", authkit.ErrRefreshTokenNotFound)
	default:
		return fmt.Errorf("refresh_store.revoke.redis: unexpected status %d", status)
	}
}

// RevokeAllForUser revokes every live record of the user.
func (store *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	revoked, err := revokeAllLua.Run(ctx, store.client, []string{store.userKey(userID)}, store.prefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("refresh_store.revoke_all.redis: %w", err)
	}
	return revoked, nil
}

// PurgeExpired drops records and index entries whose expiry is before now.
func (store *RefreshTokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	purged, err := purgeLua.Run(ctx, store.client,
		[]string{store.expiryKey(), store.ownerKey()},
		store.prefix,
		strconv.FormatInt(now.Unix(), 10),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("refresh_store.purge.redis: %w", err)
	}
	return purged, nil
}

func decodeRecord(fields map[string]string) (authkit.RefreshTokenRecord, error) {
	expiresAt, err := decodeTime(fields["expires_at"])
	if err != nil {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("%w: expires_at: %v", authkit.ErrRefreshTokenInvalidRecord, err)
	}
	createdAt, err := decodeTime(fields["created_at"])
	if err != nil {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("%w: created_at: %v", authkit.ErrRefreshTokenInvalidRecord, err)
	}
	return authkit.RefreshTokenRecord{
		ID:              fields["id"],
		UserID:          fields["user_id"],
		TokenHash:       fields["token_hash"],
		ExpiresAt:       expiresAt,
		Revoked:         fields["revoked"] == "1",
		CreatedAt:       createdAt,
		PreviousTokenID: fields["previous_token_id"],
		UserAgent:       fields["user_agent"],
		IPHash:          fields["ip_hash"],
	}, nil
}

func decodeTime(raw string) (time.Time, error) {
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

func encodeBool(value bool) string {
	if value {
		return "1"
	}
	return "0"
}

// ceilUnix rounds up so a record is never evicted before its expiry instant.
func ceilUnix(moment time.Time) int64 {
	seconds := moment.Unix()
	if moment.After(time.Unix(seconds, 0)) {
		seconds++
	}
	return seconds
}
