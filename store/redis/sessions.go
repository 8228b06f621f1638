package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/authgate"
	goredis "github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps any Redis failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

const defaultPrefix = "authgate:sess"

// Hash fields of a session key.
const (
	fieldUser          = "uid"
	fieldAccessHash    = "ah"
	fieldAccessExpiry  = "ax"
	fieldRefreshHash   = "rh"
	fieldRefreshExpiry = "rx"
	fieldDescription   = "desc"
	fieldCreatedAt     = "ca"
)

// KEYS[1] session hash. ARGV[1] expected refresh hash, ARGV[2] access hash,
// ARGV[3] access expiry (unix ms).
const updateAccessScript = `
if redis.call("HGET", KEYS[1], "rh") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "ah", ARGV[2], "ax", ARGV[3])
return 1
`

var updateAccessLua = goredis.NewScript(updateAccessScript)

// KEYS[1] session hash. ARGV[1] expected refresh hash, ARGV[2..5] the new
// access hash, access expiry, refresh hash and refresh expiry (unix ms).
const rotateScript = `
if redis.call("HGET", KEYS[1], "rh") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "ah", ARGV[2], "ax", ARGV[3], "rh", ARGV[4], "rx", ARGV[5])
redis.call("PEXPIREAT", KEYS[1], ARGV[5])
return 1
`

var rotateLua = goredis.NewScript(rotateScript)

// KEYS[1] session hash, KEYS[2] user index. ARGV[1] owner, ARGV[2] session id.
const deleteScript = `
if redis.call("HGET", KEYS[1], "uid") ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[2])
return 1
`

var deleteLua = goredis.NewScript(deleteScript)

// KEYS[1] user index. ARGV[1] session key prefix.
const deleteByUserScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  n = n + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return n
`

var deleteByUserLua = goredis.NewScript(deleteByUserScript)

// SessionStore keeps sessions in Redis hashes that expire with their refresh
// token. A per-user set indexes session ids. Conditional updates run as Lua
// scripts, so a rotation and a revocation of the same user serialize inside
// Redis.
//
// The scripts touch keys they derive at run time, so every key of one
// deployment must live on a single Redis node.
type SessionStore struct {
	redis  goredis.UniversalClient
	prefix string
}

var _ authgate.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a SessionStore. An empty prefix uses
// "authgate:sess".
func NewSessionStore(client goredis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &SessionStore{redis: client, prefix: prefix}
}

func (s *SessionStore) sessionPrefix() string {
	return s.prefix + ":s:"
}

func (s *SessionStore) key(sessionID string) string {
	return s.sessionPrefix() + sessionID
}

func (s *SessionStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func unixMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Create stores s and adds it to the user index.
//
//	Performance: 1 MULTI/EXEC round trip.
func (s *SessionStore) Create(ctx context.Context, sess authgate.Session) error {
	key := s.key(sess.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldUser, sess.UserID,
			fieldAccessHash, sess.AccessTokenHash,
			fieldAccessExpiry, unixMillis(sess.AccessTokenExpiresAt),
			fieldRefreshHash, sess.RefreshTokenHash,
			fieldRefreshExpiry, unixMillis(sess.RefreshTokenExpiresAt),
			fieldDescription, sess.ClientDescription,
			fieldCreatedAt, unixMillis(sess.CreatedAt),
		)
		pipe.PExpireAt(ctx, key, sess.RefreshTokenExpiresAt)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ListByUser returns the live sessions of userID, oldest first. Index entries
// whose session already expired are pruned.
//
//	Performance: SMEMBERS plus one pipelined HGETALL per session.
func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]authgate.Session, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]authgate.Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields[fieldUser] != userID {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, decodeSession(ids[i], fields))
	}
	if len(stale) > 0 {
		// best effort; a failed prune is retried on the next listing
		_ = s.redis.SRem(ctx, userKey, stale...).Err()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func decodeSession(id string, fields map[string]string) authgate.Session {
	return authgate.Session{
		ID:                    id,
		UserID:                fields[fieldUser],
		AccessTokenHash:       fields[fieldAccessHash],
		AccessTokenExpiresAt:  parseMillis(fields[fieldAccessExpiry]),
		RefreshTokenHash:      fields[fieldRefreshHash],
		RefreshTokenExpiresAt: parseMillis(fields[fieldRefreshExpiry]),
		ClientDescription:     fields[fieldDescription],
		CreatedAt:             parseMillis(fields[fieldCreatedAt]),
	}
}

// UpdateAccess replaces the access hash while the session still holds
// expectedRefreshHash.
//
//	Performance: 1 EVALSHA.
func (s *SessionStore) UpdateAccess(ctx context.Context, id, expectedRefreshHash, accessHash string, accessExpiresAt time.Time) (bool, error) {
	res, err := updateAccessLua.Run(ctx, s.redis,
		[]string{s.key(id)},
		expectedRefreshHash, accessHash, unixMillis(accessExpiresAt),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// Rotate replaces both hashes while the session still holds
// expectedRefreshHash and moves the key expiry to the new refresh expiry.
//
//	Performance: 1 EVALSHA.
func (s *SessionStore) Rotate(ctx context.Context, id, expectedRefreshHash string, next authgate.SessionTokens) (bool, error) {
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.key(id)},
		expectedRefreshHash,
		next.AccessTokenHash, unixMillis(next.AccessTokenExpiresAt),
		next.RefreshTokenHash, unixMillis(next.RefreshTokenExpiresAt),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// Delete removes session id of userID. A session owned by another user is
// ErrNotFound.
//
//	Performance: 1 EVALSHA.
func (s *SessionStore) Delete(ctx context.Context, userID, id string) error {
	res, err := deleteLua.Run(ctx, s.redis,
		[]string{s.key(id), s.userKey(userID)},
		userID, id,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res == 0 {
		return authgate.ErrNotFound
	}
	return nil
}

// DeleteByUser removes every session of userID in one script and returns
// how many session keys existed.
//
//	Performance: 1 EVALSHA, O(sessions of user) inside Redis.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	n, err := deleteByUserLua.Run(ctx, s.redis,
		[]string{s.userKey(userID)},
		s.sessionPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// DeleteExpired prunes user index entries whose session key Redis already
// expired and returns how many it removed. Session keys themselves carry a
// TTL, so now is only used to drop keys whose TTL was lost.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	iter := s.redis.Scan(ctx, 0, s.prefix+":u:*", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		ids, err := s.redis.SMembers(ctx, userKey).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, id := range ids {
			expiry, err := s.redis.HGet(ctx, s.key(id), fieldRefreshExpiry).Result()
			switch {
			case errors.Is(err, goredis.Nil):
			case err != nil:
				return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			case parseMillis(expiry).After(now):
				continue
			default:
				if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
					return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
			}
			if err := s.redis.SRem(ctx, userKey, id).Err(); err != nil {
				return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return removed, nil
}

// Ping reports whether Redis answers.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
