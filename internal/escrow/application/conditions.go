package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/wyfcoding/investportal/internal/escrow/domain"
)

// ReleaseConditionTracker 放款条件跟踪
type ReleaseConditionTracker struct {
	conditions domain.ConditionRepository
	accounts   domain.AccountRepository
	uow        UnitOfWork
	events     eventWriter
	logger     *slog.Logger
	now        func() time.Time
}

// NewReleaseConditionTracker 创建放款条件跟踪器，topic 为空使用默认主题
func NewReleaseConditionTracker(
	conditions domain.ConditionRepository,
	accounts domain.AccountRepository,
	publisher EventPublisher,
	uow UnitOfWork,
	topic string,
	logger *slog.Logger,
) *ReleaseConditionTracker {
	if topic == "" {
		topic = DefaultEventTopic
	}
	return &ReleaseConditionTracker{
		conditions: conditions,
		accounts:   accounts,
		uow:        uow,
		events:     eventWriter{publisher: publisher, topic: topic},
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CheckReleaseConditions 全部条件满足返回 true；没有条件的账户不可放款
func (t *ReleaseConditionTracker) CheckReleaseConditions(ctx context.Context, accountID string) (bool, error) {
	conds, err := t.ListConditions(ctx, accountID)
	if err != nil {
		return false, err
	}
	return domain.AllConditionsMet(conds), nil
}

// ListConditions 列出账户的放款条件，账户不存在返回 ErrNotFound
func (t *ReleaseConditionTracker) ListConditions(ctx context.Context, accountID string) ([]domain.ReleaseCondition, error) {
	conds, err := t.conditions.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(conds) == 0 {
		if _, err := t.accounts.Get(ctx, accountID); err != nil {
			return nil, err
		}
	}
	return conds, nil
}

// MarkConditionMet 标记条件满足，重复调用不改变完成时间
func (t *ReleaseConditionTracker) MarkConditionMet(ctx context.Context, conditionID string) (*domain.ReleaseCondition, error) {
	var (
		cond    *domain.ReleaseCondition
		changed bool
	)
	err := t.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		if changed, err = t.markMet(ctx, conditionID); err != nil {
			return err
		}
		cond, err = t.conditions.Get(ctx, conditionID)
		if err != nil {
			return err
		}
		if changed {
			t.logger.InfoContext(ctx, "release condition met", "condition_id", conditionID, "account_id", cond.AccountID, "type", cond.ConditionType)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		t.evict(ctx, cond.AccountID)
	}
	return cond, nil
}

// MarkConditionsByReference 标记信号命中的全部未满足条件，返回受影响的账户（去重、保序）
// 只命中信号所属投资机会下的账户
func (t *ReleaseConditionTracker) MarkConditionsByReference(ctx context.Context, signal domain.Signal) ([]string, error) {
	if err := signal.Validate(); err != nil {
		return nil, err
	}
	var accountIDs []string
	err := t.uow.Do(ctx, func(ctx context.Context) error {
		accountIDs = accountIDs[:0]
		conds, err := t.conditions.ListUnmetBySignal(ctx, signal)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(conds))
		for _, c := range conds {
			changed, err := t.markMet(ctx, c.ConditionID)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			if _, ok := seen[c.AccountID]; !ok {
				seen[c.AccountID] = struct{}{}
				accountIDs = append(accountIDs, c.AccountID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.evict(ctx, accountIDs...)
	if len(accountIDs) > 0 {
		t.logger.InfoContext(ctx, "release conditions met by signal",
			"type", signal.Type, "opportunity_id", signal.OpportunityID, "reference_id", signal.ReferenceID, "accounts", len(accountIDs))
	}
	return accountIDs, nil
}

// 缓存的账户快照内嵌条件列表，条件变化后需失效
func (t *ReleaseConditionTracker) evict(ctx context.Context, accountIDs ...string) {
	e, ok := t.accounts.(cacheEvicter)
	if !ok {
		return
	}
	for _, id := range accountIDs {
		e.Evict(ctx, id)
	}
}

// markMet 条件首次满足时同事务写入 condition.met 事件
func (t *ReleaseConditionTracker) markMet(ctx context.Context, conditionID string) (bool, error) {
	now := t.now()
	changed, err := t.conditions.MarkMet(ctx, conditionID, now)
	if err != nil || !changed {
		return changed, err
	}

	cond, err := t.conditions.Get(ctx, conditionID)
	if err != nil {
		return false, err
	}
	acc, err := t.accounts.Get(ctx, cond.AccountID)
	if err != nil {
		return false, err
	}
	e := domain.NewLedgerEvent(domain.EventConditionMet, acc, nil, now)
	e.ConditionID = conditionID
	return true, t.events.write(ctx, e)
}
