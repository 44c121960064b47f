// Package ratelimit 托管写接口的分布式限流，基于 Redis GCRA
// 资金出口（release/fee/signals）与普通写接口使用不同限额，键按 scope 隔离
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix 限流键前缀
const KeyPrefix = "escrow:ratelimit"

// RateLimiter 限流器接口
type RateLimiter interface {
	// Allow 判断 key 在给定限额下是否放行
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 单个 scope 的限额
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// PerSecond 每秒 rate 次，突发 burst；burst 不足 rate 时按 rate 计
func PerSecond(rate, burst int) Limit {
	if burst < rate {
		burst = rate
	}
	return Limit{Rate: rate, Period: time.Second, Burst: burst}
}

// Result 限流判定结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// Policy 按 scope 区分的限额表，未配置的 scope 使用 Default
type Policy struct {
	Default Limit
	Scopes  map[string]Limit
}

// For 返回 scope 的限额
func (p Policy) For(scope string) Limit {
	if l, ok := p.Scopes[strings.ToLower(scope)]; ok && l.Rate > 0 {
		return l
	}
	return p.Default
}

// Key 组装限流键 escrow:ratelimit:<scope>:<subject>
func Key(scope, subject string) string {
	if scope == "" {
		scope = "default"
	}
	return KeyPrefix + ":" + strings.ToLower(scope) + ":" + subject
}

// RedisRateLimiter 基于 redis_rate 的实现
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建限流器
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

// Allow 判断是否放行
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	if limit.Rate <= 0 {
		return &Result{Allowed: true, Remaining: -1}, nil
	}
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed for %s: %w", key, err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Reset 清除 key 的计数，运维手动解封客户端时使用
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.limiter.Reset(ctx, key)
}
