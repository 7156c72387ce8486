// Package cache provides the redis-backed read cache and idempotency claims
// for the custody module.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/pkg/errors"
)

const (
	walletKeyPrefix      = "custody:wallet:"
	idempotencyKeyPrefix = "custody:idem:"
)

// RedisCache implements interfaces.CustodyCache on redis. Cache misses and
// redis faults are reported as errors so callers fall through to the
// repository; the cache is never the source of truth.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ interfaces.CustodyCache = (*RedisCache)(nil)

// NewRedisCache creates a new redis cache with the given snapshot TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// GetWallet retrieves a cached wallet snapshot.
func (c *RedisCache) GetWallet(ctx context.Context, id uuid.UUID) (*interfaces.MultisigWallet, error) {
	data, err := c.client.Get(ctx, walletKeyPrefix+id.String()).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFound("wallet %s not cached", id)
	}
	if err != nil {
		return nil, errors.External(err, "cache read failed")
	}
	var w interfaces.MultisigWallet
	if err := json.Unmarshal(data, &w); err != nil {
		// Corrupt entry, drop it so the repository read repopulates.
		c.client.Del(ctx, walletKeyPrefix+id.String())
		return nil, errors.Internal(err, "cached wallet %s is corrupt", id)
	}
	return &w, nil
}

// SetWallet stores a wallet snapshot.
func (c *RedisCache) SetWallet(ctx context.Context, w *interfaces.MultisigWallet) error {
	data, err := json.Marshal(w)
	if err != nil {
		return errors.Internal(err, "marshal wallet %s", w.ID)
	}
	if err := c.client.Set(ctx, walletKeyPrefix+w.ID.String(), data, c.ttl).Err(); err != nil {
		return errors.External(err, "cache write failed")
	}
	return nil
}

// InvalidateWallet drops a wallet snapshot after a mutation commits.
func (c *RedisCache) InvalidateWallet(ctx context.Context, id uuid.UUID) error {
	if err := c.client.Del(ctx, walletKeyPrefix+id.String()).Err(); err != nil {
		c.logger.Warn("wallet cache invalidation failed",
			zap.String("wallet_id", id.String()), zap.Error(err))
		return errors.External(err, "cache invalidation failed")
	}
	return nil
}

// ClaimIdempotencyKey atomically claims an execution idempotency key for a
// transaction. It returns true when this call won the claim, or false plus
// the holder's transaction id when the key is already held.
func (c *RedisCache) ClaimIdempotencyKey(ctx context.Context, key string, txID uuid.UUID, ttl time.Duration) (bool, uuid.UUID, error) {
	redisKey := idempotencyKeyPrefix + key
	ok, err := c.client.SetNX(ctx, redisKey, txID.String(), ttl).Result()
	if err != nil {
		return false, uuid.Nil, errors.External(err, "idempotency claim failed")
	}
	if ok {
		return true, txID, nil
	}
	holder, err := c.client.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		// Holder expired between SETNX and GET, retry the claim once.
		ok, err = c.client.SetNX(ctx, redisKey, txID.String(), ttl).Result()
		if err != nil {
			return false, uuid.Nil, errors.External(err, "idempotency claim failed")
		}
		if ok {
			return true, txID, nil
		}
		holder, err = c.client.Get(ctx, redisKey).Result()
		if err != nil {
			return false, uuid.Nil, errors.External(err, "idempotency claim failed")
		}
	} else if err != nil {
		return false, uuid.Nil, errors.External(err, "idempotency claim failed")
	}
	holderID, err := uuid.Parse(holder)
	if err != nil {
		return false, uuid.Nil, errors.Internal(err, "idempotency key %q holds invalid value", key)
	}
	return false, holderID, nil
}
