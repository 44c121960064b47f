// Package persistence 组合数据库主存储与 Redis 读缓存
package persistence

import (
	"context"
	"time"

	"github.com/wyfcoding/investportal/internal/escrow/domain"
	"github.com/wyfcoding/investportal/pkg/db"
)

// AccountCache 账户读缓存
type AccountCache interface {
	Get(ctx context.Context, accountID string) (*domain.EscrowAccount, error)
	Save(ctx context.Context, account *domain.EscrowAccount) error
	Delete(ctx context.Context, accountID string) error
}

type compositeAccountRepository struct {
	mysql domain.AccountRepository
	cache AccountCache
}

// NewCompositeAccountRepository 读走缓存、写走主库；缓存失败不影响主流程
func NewCompositeAccountRepository(mysql domain.AccountRepository, cache AccountCache) domain.AccountRepository {
	return &compositeAccountRepository{mysql: mysql, cache: cache}
}

func (r *compositeAccountRepository) Create(ctx context.Context, a *domain.EscrowAccount) error {
	return r.mysql.Create(ctx, a)
}

// Get 事务内直接读主库，避免把未提交数据写进缓存
func (r *compositeAccountRepository) Get(ctx context.Context, accountID string) (*domain.EscrowAccount, error) {
	if _, inTx := db.TxFromContext(ctx); inTx {
		return r.mysql.Get(ctx, accountID)
	}

	if a, err := r.cache.Get(ctx, accountID); err == nil && a != nil {
		return a, nil
	}

	a, err := r.mysql.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	_ = r.cache.Save(ctx, a)
	return a, nil
}

func (r *compositeAccountRepository) GetForUpdate(ctx context.Context, accountID string) (*domain.EscrowAccount, error) {
	return r.mysql.GetForUpdate(ctx, accountID)
}

func (r *compositeAccountRepository) Update(ctx context.Context, a *domain.EscrowAccount) error {
	if err := r.mysql.Update(ctx, a); err != nil {
		return err
	}
	_ = r.cache.Delete(ctx, a.AccountID)
	return nil
}

// Evict 提交后再次失效，覆盖事务提交前被并发读回填的旧快照
func (r *compositeAccountRepository) Evict(ctx context.Context, accountID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	_ = r.cache.Delete(ctx, accountID)
}

func (r *compositeAccountRepository) ListByOpportunity(ctx context.Context, opportunityID string) ([]*domain.EscrowAccount, error) {
	return r.mysql.ListByOpportunity(ctx, opportunityID)
}

func (r *compositeAccountRepository) ListReleasable(ctx context.Context, afterID string, limit int) ([]*domain.EscrowAccount, error) {
	return r.mysql.ListReleasable(ctx, afterID, limit)
}
