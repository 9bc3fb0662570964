// Package authkitredis stores refresh token revocations in Redis. Every state transition runs
// as a Lua script so concurrent rotations of the same token are serialized by the server.
package authkitredis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tyemirov/sensorhub/internal/authkit"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "sensorhub:rt"

// Records outlive their expiry by this much so the purge pass can still clean the subject index.
const recordRetention = 24 * time.Hour

const (
	stateLive    = "live"
	stateRevoked = "revoked"
)

const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "state", "live", "user_id", ARGV[2], "username", ARGV[3], "display_name", ARGV[4], "expires_unix", ARGV[5])
redis.call("EXPIREAT", KEYS[1], ARGV[6])
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[5], ARGV[1])
return 1
`

const revokeScript = `
if redis.call("HGET", KEYS[1], "state") == "live" then
  redis.call("HSET", KEYS[1], "state", "revoked", "revoked_at_unix", ARGV[1])
  return 1
end
return 0
`

const revokeSubjectScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local state = redis.call("HGET", key, "state")
  if state == "live" then
    redis.call("HSET", key, "state", "revoked", "revoked_at_unix", ARGV[2])
    revoked = revoked + 1
  elseif not state then
    redis.call("SREM", KEYS[1], id)
  end
end
return revoked
`

const purgeScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1])
for _, id in ipairs(ids) do
  local key = ARGV[2] .. id
  local user = redis.call("HGET", key, "user_id")
  redis.call("DEL", key)
  if user then
    redis.call("SREM", ARGV[3] .. user, id)
  end
  redis.call("ZREM", KEYS[1], id)
end
return #ids
`

var (
	createLua        = redis.NewScript(createScript)
	revokeLua        = redis.NewScript(revokeScript)
	revokeSubjectLua = redis.NewScript(revokeSubjectScript)
	purgeLua         = redis.NewScript(purgeScript)
)

// RedisRevocationStore implements authkit.RevocationStore on a Redis client.
type RedisRevocationStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRevocationStore wraps client; an empty prefix selects DefaultKeyPrefix.
func NewRedisRevocationStore(client redis.UniversalClient, prefix string) *RedisRevocationStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisRevocationStore{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open parses redisURL, verifies connectivity and returns a store together with its client.
func Open(ctx context.Context, redisURL string) (*RedisRevocationStore, *redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("revocation_store.redis.parse: %w", err)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("revocation_store.redis.ping: %w", pingErr)
	}
	return NewRedisRevocationStore(client, DefaultKeyPrefix), client, nil
}

// WithClock stamps created and revoked times from clock.
func (store *RedisRevocationStore) WithClock(clock authkit.Clock) *RedisRevocationStore {
	if clock != nil {
		store.now = clock.Now
	}
	return store
}

// Ping verifies the server is reachable.
func (store *RedisRevocationStore) Ping(ctx context.Context) error {
	return store.client.Ping(ctx).Err()
}

func (store *RedisRevocationStore) tokenPrefix() string {
	return store.prefix + ":token:"
}

func (store *RedisRevocationStore) userPrefix() string {
	return store.prefix + ":user:"
}

func (store *RedisRevocationStore) tokenKey(tokenID string) string {
	return store.tokenPrefix() + tokenID
}

func (store *RedisRevocationStore) userKey(userID string) string {
	return store.userPrefix() + userID
}

func (store *RedisRevocationStore) expiryKey() string {
	return store.prefix + ":expiry"
}

// CreateRevocation stores a live record and indexes it by subject and expiry.
func (store *RedisRevocationStore) CreateRevocation(ctx context.Context, record authkit.RevocationRecord) error {
	if strings.TrimSpace(record.TokenID) == "" {
		return fmt.Errorf("revocation_store.create.redis: %w", authkit.ErrEmptyTokenID)
	}
	expiresUnix := record.ExpiresAt.Unix()
	created, err := createLua.Run(ctx, store.client,
		[]string{store.tokenKey(record.TokenID), store.userKey(record.Identity.UserID), store.expiryKey()},
		record.TokenID,
		record.Identity.UserID,
		record.Identity.Username,
		record.Identity.DisplayName,
		expiresUnix,
		record.ExpiresAt.Add(recordRetention).Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("revocation_store.create.redis: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("revocation_store.create.redis: %w", authkit.ErrRevocationExists)
	}
	return nil
}

// ConditionallyRevoke flips a live record to revoked inside a single script execution.
func (store *RedisRevocationStore) ConditionallyRevoke(ctx context.Context, tokenID string) (bool, error) {
	applied, err := revokeLua.Run(ctx, store.client, []string{store.tokenKey(tokenID)}, store.now().Unix()).Int64()
	if err != nil {
		return false, fmt.Errorf("revocation_store.revoke.redis: %w", err)
	}
	return applied == 1, nil
}

// IsLive reports whether tokenID exists and has not been revoked.
func (store *RedisRevocationStore) IsLive(ctx context.Context, tokenID string) (bool, error) {
	state, err := store.client.HGet(ctx, store.tokenKey(tokenID), "state").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("revocation_store.is_live.redis: %w", err)
	}
	return state == stateLive, nil
}

// RevokeSubject revokes every live record belonging to userID.
func (store *RedisRevocationStore) RevokeSubject(ctx context.Context, userID string) (int64, error) {
	revoked, err := revokeSubjectLua.Run(ctx, store.client, []string{store.userKey(userID)},
		store.tokenPrefix(), store.now().Unix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("revocation_store.revoke_subject.redis: %w", err)
	}
	return revoked, nil
}

// PurgeExpired deletes records whose refresh token expired before the given instant.
func (store *RedisRevocationStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	purged, err := purgeLua.Run(ctx, store.client, []string{store.expiryKey()},
		before.Unix(), store.tokenPrefix(), store.userPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("revocation_store.purge.redis: %w", err)
	}
	return purged, nil
}
