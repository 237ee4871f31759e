package sso

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSpentPrefix   = "ssohub:refresh:spent:"
	redisRevokedPrefix = "ssohub:owner:revoked:"
)

// RedisRotationStore is the shared-deployment RotationStore. Spend relies
// on SET NX so that two nodes redeeming the same refresh token cannot both
// win the rotation.
type RedisRotationStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisRotationStore wraps an existing client. retention bounds how long
// an owner revocation marker is kept; it must cover the refresh TTL so no
// outstanding token outlives its revocation. Zero falls back to 30 days.
func NewRedisRotationStore(client *redis.Client, retention time.Duration) *RedisRotationStore {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisRotationStore{client: client, retention: retention}
}

func (s *RedisRotationStore) Spend(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := s.client.SetNX(ctx, redisSpentPrefix+id, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisRotationStore) RevokeOwner(ctx context.Context, owner string, at time.Time) error {
	// The marker outlives the longest outstanding token, then expires so
	// owner keys do not pile up.
	return s.client.Set(ctx, redisRevokedPrefix+owner, at.UTC().Format(time.RFC3339Nano), s.retention).Err()
}

func (s *RedisRotationStore) OwnerRevokedAt(ctx context.Context, owner string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, redisRevokedPrefix+owner).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}
