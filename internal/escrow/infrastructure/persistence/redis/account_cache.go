// Package redis 托管账户 Redis 读缓存
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/investportal/internal/escrow/domain"
	"github.com/wyfcoding/investportal/pkg/cache"
)

const defaultTTL = 5 * time.Minute

// AccountCache 托管账户快照缓存
type AccountCache struct {
	cache  *cache.RedisCache
	prefix string
	ttl    time.Duration
}

// NewAccountCache 创建账户缓存，ttl 为 0 时使用默认值
func NewAccountCache(rc *cache.RedisCache, ttl time.Duration) *AccountCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &AccountCache{cache: rc, prefix: "escrow:account:", ttl: ttl}
}

// Get 未命中返回 nil, nil
func (c *AccountCache) Get(ctx context.Context, accountID string) (*domain.EscrowAccount, error) {
	var a domain.EscrowAccount
	if err := c.cache.GetJSON(ctx, c.key(accountID), &a); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (c *AccountCache) Save(ctx context.Context, a *domain.EscrowAccount) error {
	if a == nil {
		return nil
	}
	return c.cache.SetJSON(ctx, c.key(a.AccountID), a, c.ttl)
}

func (c *AccountCache) Delete(ctx context.Context, accountID string) error {
	return c.cache.Delete(ctx, c.key(accountID))
}

func (c *AccountCache) key(id string) string {
	return c.prefix + id
}
