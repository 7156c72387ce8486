package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/pkg/errors"
)

// MemoryCache is an in-process CustodyCache for tests and single-node
// deployments without redis.
type MemoryCache struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*interfaces.MultisigWallet
	claims  map[string]claim
}

type claim struct {
	txID      uuid.UUID
	expiresAt time.Time
}

var _ interfaces.CustodyCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		wallets: make(map[uuid.UUID]*interfaces.MultisigWallet),
		claims:  make(map[string]claim),
	}
}

// GetWallet retrieves a cached wallet snapshot.
func (c *MemoryCache) GetWallet(ctx context.Context, id uuid.UUID) (*interfaces.MultisigWallet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.wallets[id]
	if !ok {
		return nil, errors.NotFound("wallet %s not cached", id)
	}
	return w, nil
}

// SetWallet stores a wallet snapshot.
func (c *MemoryCache) SetWallet(ctx context.Context, w *interfaces.MultisigWallet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallets[w.ID] = w
	return nil
}

// InvalidateWallet drops a wallet snapshot.
func (c *MemoryCache) InvalidateWallet(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.wallets, id)
	return nil
}

// ClaimIdempotencyKey atomically claims an idempotency key. Expired claims
// are reusable.
func (c *MemoryCache) ClaimIdempotencyKey(ctx context.Context, key string, txID uuid.UUID, ttl time.Duration) (bool, uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if existing, ok := c.claims[key]; ok && now.Before(existing.expiresAt) {
		return false, existing.txID, nil
	}
	c.claims[key] = claim{txID: txID, expiresAt: now.Add(ttl)}
	return true, txID, nil
}
