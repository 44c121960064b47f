package domain

import (
	"context"
	"time"
)

// AccountRepository 托管账户仓储接口
type AccountRepository interface {
	// Create 保存新账户及其放款条件
	Create(ctx context.Context, account *EscrowAccount) error
	// Get 读取账户及条件，可走缓存
	Get(ctx context.Context, accountID string) (*EscrowAccount, error)
	// GetForUpdate 在当前事务内加行锁读取，绕过缓存
	GetForUpdate(ctx context.Context, accountID string) (*EscrowAccount, error)
	// Update 按版本号 CAS 更新余额与状态，成功后 Version 自增
	Update(ctx context.Context, account *EscrowAccount) error
	// ListByOpportunity 按投资机会列出账户
	ListByOpportunity(ctx context.Context, opportunityID string) ([]*EscrowAccount, error)
	// ListReleasable 分页列出 funded/active 且有可用余额的账户，按 account_id 游标递增
	ListReleasable(ctx context.Context, afterID string, limit int) ([]*EscrowAccount, error)
}

// TransactionRepository 资金流水仓储接口
type TransactionRepository interface {
	Append(ctx context.Context, tx *EscrowTransaction) error
	ListByAccount(ctx context.Context, accountID string) ([]*EscrowTransaction, error)
}

// ConditionRepository 放款条件仓储接口
type ConditionRepository interface {
	Get(ctx context.Context, conditionID string) (*ReleaseCondition, error)
	ListByAccount(ctx context.Context, accountID string) ([]ReleaseCondition, error)
	// MarkMet 仅在未满足时更新，返回是否发生变化
	MarkMet(ctx context.Context, conditionID string, at time.Time) (bool, error)
	// ListUnmetBySignal 查找信号命中的未满足条件
	ListUnmetBySignal(ctx context.Context, signal Signal) ([]ReleaseCondition, error)
}
