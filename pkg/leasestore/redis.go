package leasestore

import (
	"context"
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/cuemby/agentctl/pkg/types"
	"github.com/redis/go-redis/v9"
)

// compareAndDeleteScript is the classic distributed-lock unlock script: only
// delete the key if its value still matches the caller's owner id.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// compareAndExtendScript extends a key's TTL by additionalMs only if it is
// still owned by the caller, preserving whatever TTL remains rather than
// resetting it.
var compareAndExtendScript = redis.NewScript(`
local ttl = redis.call("pttl", KEYS[1])
if redis.call("get", KEYS[1]) == ARGV[1] and ttl > 0 then
	return redis.call("pexpire", KEYS[1], ttl + tonumber(ARGV[2]))
else
	return 0
end
`)

const (
	leaseKeyPrefix = "agentctl:lease:"
	lockKeyPrefix  = "agentctl:lock:"
)

// RedisStore is the multi-replica alternative to BoltStore: any control-plane
// replica can serve Acquire/Release/Extend against the same Redis instance,
// using SET NX PX for acquisition and Lua scripts for owner-checked
// release/extend so the compare-and-delete/compare-and-extend stays atomic
// across replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-configured *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) AcquireLease(runID, nodeID string, ttlSeconds int) (bool, error) {
	if runID == "" || nodeID == "" {
		return false, apierrors.Validation("runId and nodeId are required")
	}
	if ttlSeconds <= 0 {
		return false, apierrors.Validation("ttlSeconds must be positive")
	}
	ctx := context.Background()
	ok, err := s.client.SetNX(ctx, leaseKeyPrefix+runID, nodeID, time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindTransient, err, "acquire lease")
	}
	return ok, nil
}

func (s *RedisStore) GetLease(runID string) (*types.Lease, error) {
	ctx := context.Background()
	key := leaseKeyPrefix + runID

	nodeID, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, err, "get lease")
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, err, "get lease ttl")
	}
	if ttl <= 0 {
		return nil, nil
	}

	return &types.Lease{RunID: runID, NodeID: nodeID, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (s *RedisStore) ExtendLease(runID, nodeID string, additionalSeconds int) (bool, error) {
	if additionalSeconds <= 0 {
		return false, apierrors.Validation("additionalSeconds must be positive")
	}
	ctx := context.Background()
	res, err := compareAndExtendScript.Run(ctx, s.client, []string{leaseKeyPrefix + runID}, nodeID, additionalSeconds*1000).Int()
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindTransient, err, "extend lease")
	}
	return res == 1, nil
}

func (s *RedisStore) ReleaseLease(runID, nodeID string) (bool, error) {
	ctx := context.Background()
	res, err := compareAndDeleteScript.Run(ctx, s.client, []string{leaseKeyPrefix + runID}, nodeID).Int()
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindTransient, err, "release lease")
	}
	return res == 1, nil
}

func (s *RedisStore) AdminReleaseLease(runID string) (bool, error) {
	ctx := context.Background()
	n, err := s.client.Del(ctx, leaseKeyPrefix+runID).Result()
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindTransient, err, "admin release lease")
	}
	return n > 0, nil
}

func (s *RedisStore) AcquireLock(key, ownerID string, ttlSeconds int) (bool, error) {
	if key == "" || ownerID == "" {
		return false, apierrors.Validation("key and ownerId are required")
	}
	if ttlSeconds <= 0 {
		return false, apierrors.Validation("ttlSeconds must be positive")
	}
	ctx := context.Background()
	ok, err := s.client.SetNX(ctx, lockKeyPrefix+key, ownerID, time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindTransient, err, "acquire lock")
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLock(key, ownerID string) (bool, error) {
	ctx := context.Background()
	res, err := compareAndDeleteScript.Run(ctx, s.client, []string{lockKeyPrefix + key}, ownerID).Int()
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindTransient, err, "release lock")
	}
	return res == 1, nil
}

func (s *RedisStore) ExtendLock(key, ownerID string, additionalSeconds int) (bool, error) {
	if additionalSeconds <= 0 {
		return false, apierrors.Validation("additionalSeconds must be positive")
	}
	ctx := context.Background()
	res, err := compareAndExtendScript.Run(ctx, s.client, []string{lockKeyPrefix + key}, ownerID, additionalSeconds*1000).Int()
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindTransient, err, "extend lock")
	}
	return res == 1, nil
}

func (s *RedisStore) IsLocked(key string) (bool, error) {
	ctx := context.Background()
	n, err := s.client.Exists(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindTransient, err, "check lock")
	}
	return n > 0, nil
}
