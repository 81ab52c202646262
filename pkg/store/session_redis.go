package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Fabian0270/library-system/internal/util"
)

// UserSessionRevoker ends every session of one user, e.g. after a password change.
type UserSessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string) error
}

// RedisSessionStore keeps opaque session tokens in Redis with TTL.
// Each user also has a set of live tokens so all of them can be revoked.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisSessionStore builds a Redis-backed session store on a shared client.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl, prefix: "library:session:"}
}

// NewSession writes a token -> userID mapping with TTL.
func (s *RedisSessionStore) NewSession(ctx context.Context, userID string) (string, error) {
	token := util.NewToken()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	userKey := s.userKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(token), userID, s.ttl)
		pipe.SAdd(ctx, userKey, token)
		pipe.Expire(ctx, userKey, s.ttl)
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetUserIDByToken resolves token to user ID.
func (s *RedisSessionStore) GetUserIDByToken(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	val, err := s.client.Get(ctx, s.tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// DeleteSession removes a token mapping.
func (s *RedisSessionStore) DeleteSession(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	userID, err := s.client.GetDel(ctx, s.tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.client.SRem(ctx, s.userKey(userID), token).Err()
}

// RevokeUserSessions deletes every live token of the user.
func (s *RedisSessionStore) RevokeUserSessions(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	userKey := s.userKey(userID)
	tokens, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, s.tokenKey(token))
	}
	keys = append(keys, userKey)
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisSessionStore) tokenKey(token string) string {
	return s.prefix + token
}

func (s *RedisSessionStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}
