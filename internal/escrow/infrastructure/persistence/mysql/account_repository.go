// Package mysql 托管账本的 GORM 仓储实现（MySQL/PostgreSQL/SQLite 通用）
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/investportal/internal/escrow/domain"
	"github.com/wyfcoding/investportal/pkg/db"
)

// AccountRepository 托管账户 MySQL 仓储
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository 创建托管账户仓储
func NewAccountRepository(gdb *gorm.DB) *AccountRepository {
	return &AccountRepository{db: gdb}
}

// Create 保存账户与放款条件
func (r *AccountRepository) Create(ctx context.Context, a *domain.EscrowAccount) error {
	model := toAccountModel(a)
	model.Version = 1
	conds := make([]*ConditionModel, 0, len(a.Conditions))
	for _, c := range a.Conditions {
		conds = append(conds, toConditionModel(c))
	}

	err := db.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(conds) > 0 {
			return tx.Create(&conds).Error
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.Version = model.Version
	return nil
}

// Get 读取账户
func (r *AccountRepository) Get(ctx context.Context, accountID string) (*domain.EscrowAccount, error) {
	return r.get(ctx, db.Conn(ctx, r.db), accountID)
}

// GetForUpdate 加行锁读取，sqlite 由单写连接保证串行
func (r *AccountRepository) GetForUpdate(ctx context.Context, accountID string) (*domain.EscrowAccount, error) {
	conn := db.Conn(ctx, r.db)
	if db.SupportsRowLock(conn) {
		conn = conn.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.get(ctx, conn, accountID)
}

func (r *AccountRepository) get(ctx context.Context, conn *gorm.DB, accountID string) (*domain.EscrowAccount, error) {
	var model AccountModel
	if err := conn.Where("account_id = ?", accountID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: account %s", domain.ErrNotFound, accountID)
		}
		return nil, err
	}

	var conds []*ConditionModel
	if err := db.Conn(ctx, r.db).Where("account_id = ?", accountID).Order("position ASC").Find(&conds).Error; err != nil {
		return nil, err
	}
	return toAccount(&model, conds), nil
}

// Update 按版本号更新，未命中返回 ErrConcurrentModification
func (r *AccountRepository) Update(ctx context.Context, a *domain.EscrowAccount) error {
	next := a.Version + 1
	result := db.Conn(ctx, r.db).Model(&AccountModel{}).
		Where("account_id = ? AND version = ?", a.AccountID, a.Version).
		Updates(map[string]any{
			"total_amount":      a.TotalAmount,
			"available_balance": a.AvailableBalance,
			"held_amount":       a.HeldAmount,
			"status":            string(a.Status),
			"dispute_reason":    a.DisputeReason,
			"cancel_reason":     a.CancelReason,
			"funded_at":         a.FundedAt,
			"closed_at":         a.ClosedAt,
			"version":           next,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: account %s at version %d", domain.ErrConcurrentModification, a.AccountID, a.Version)
	}
	a.Version = next
	return nil
}

// ListByOpportunity 按投资机会列出账户
func (r *AccountRepository) ListByOpportunity(ctx context.Context, opportunityID string) ([]*domain.EscrowAccount, error) {
	var models []*AccountModel
	if err := db.Conn(ctx, r.db).Where("opportunity_id = ?", opportunityID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return r.withConditions(ctx, models)
}

// ListReleasable 游标分页列出可放款账户
func (r *AccountRepository) ListReleasable(ctx context.Context, afterID string, limit int) ([]*domain.EscrowAccount, error) {
	var models []*AccountModel
	err := db.Conn(ctx, r.db).
		Where("status IN ? AND available_balance > 0 AND account_id > ?",
			[]string{string(domain.AccountFunded), string(domain.AccountActive)}, afterID).
		Order("account_id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return r.withConditions(ctx, models)
}

func (r *AccountRepository) withConditions(ctx context.Context, models []*AccountModel) ([]*domain.EscrowAccount, error) {
	if len(models) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.AccountID)
	}

	var conds []*ConditionModel
	if err := db.Conn(ctx, r.db).Where("account_id IN ?", ids).Order("position ASC").Find(&conds).Error; err != nil {
		return nil, err
	}
	byAccount := make(map[string][]*ConditionModel, len(models))
	for _, c := range conds {
		byAccount[c.AccountID] = append(byAccount[c.AccountID], c)
	}

	out := make([]*domain.EscrowAccount, 0, len(models))
	for _, m := range models {
		out = append(out, toAccount(m, byAccount[m.AccountID]))
	}
	return out, nil
}

// TransactionRepository 资金流水 MySQL 仓储
type TransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 创建流水仓储
func NewTransactionRepository(gdb *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: gdb}
}

// Append 追加流水
func (r *TransactionRepository) Append(ctx context.Context, tx *domain.EscrowTransaction) error {
	return db.Conn(ctx, r.db).Create(toTransactionModel(tx)).Error
}

// ListByAccount 按写入顺序列出账户流水
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.EscrowTransaction, error) {
	var models []*TransactionModel
	if err := db.Conn(ctx, r.db).Where("account_id = ?", accountID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.EscrowTransaction, 0, len(models))
	for _, m := range models {
		out = append(out, toTransaction(m))
	}
	return out, nil
}

// ConditionRepository 放款条件 MySQL 仓储
type ConditionRepository struct {
	db *gorm.DB
}

// NewConditionRepository 创建放款条件仓储
func NewConditionRepository(gdb *gorm.DB) *ConditionRepository {
	return &ConditionRepository{db: gdb}
}

// Get 读取单个条件
func (r *ConditionRepository) Get(ctx context.Context, conditionID string) (*domain.ReleaseCondition, error) {
	var model ConditionModel
	if err := db.Conn(ctx, r.db).Where("condition_id = ?", conditionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: condition %s", domain.ErrNotFound, conditionID)
		}
		return nil, err
	}
	c := toCondition(&model)
	return &c, nil
}

// ListByAccount 列出账户的放款条件
func (r *ConditionRepository) ListByAccount(ctx context.Context, accountID string) ([]domain.ReleaseCondition, error) {
	var models []*ConditionModel
	if err := db.Conn(ctx, r.db).Where("account_id = ?", accountID).Order("position ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ReleaseCondition, 0, len(models))
	for _, m := range models {
		out = append(out, toCondition(m))
	}
	return out, nil
}

// MarkMet 条件式更新 is_met，重复标记不修改完成时间
func (r *ConditionRepository) MarkMet(ctx context.Context, conditionID string, at time.Time) (bool, error) {
	result := db.Conn(ctx, r.db).Model(&ConditionModel{}).
		Where("condition_id = ? AND is_met = ?", conditionID, false).
		Updates(map[string]any{"is_met": true, "completed_at": at})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, conditionID); err != nil {
		return false, err
	}
	return false, nil
}

// ListUnmetBySignal 查找信号命中的未满足条件，按账户所属投资机会过滤
func (r *ConditionRepository) ListUnmetBySignal(ctx context.Context, s domain.Signal) ([]domain.ReleaseCondition, error) {
	var models []*ConditionModel
	err := db.Conn(ctx, r.db).
		Select("escrow_release_conditions.*").
		Joins("JOIN escrow_accounts ON escrow_accounts.account_id = escrow_release_conditions.account_id").
		Where("escrow_release_conditions.condition_type = ? AND escrow_release_conditions.reference_id = ? AND escrow_release_conditions.is_met = ?",
			string(s.Type), s.ReferenceID, false).
		Where("escrow_accounts.opportunity_id = ? AND escrow_accounts.deleted_at IS NULL", s.OpportunityID).
		Order("escrow_release_conditions.id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.ReleaseCondition, 0, len(models))
	for _, m := range models {
		out = append(out, toCondition(m))
	}
	return out, nil
}
