// Package application 托管账本应用层：账本操作、放款条件跟踪与自动放款调度
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/investportal/internal/escrow/domain"
)

// UnitOfWork 事务边界，*db.TxManager 实现
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// LedgerMetrics 账本指标
type LedgerMetrics interface {
	RecordLedgerOp(operation string, err error)
}

// 事务提交后失效读缓存，组合仓储实现
type cacheEvicter interface {
	Evict(ctx context.Context, accountID string)
}

// DefaultEventTopic 账本事件默认主题
const DefaultEventTopic = "escrow.events"

// EventPublisher 集成事件发布端口，ctx 中携带的事务即为 outbox 写入所在事务
// messaging.OutboxPublisher 实现
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// eventWriter 按账户 ID 分区写出领域事件，必须在业务事务内调用
type eventWriter struct {
	publisher EventPublisher
	topic     string
}

func (w eventWriter) write(ctx context.Context, e *domain.LedgerEvent) error {
	if err := w.publisher.Publish(ctx, w.topic, e.AccountID, e); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.EventType, err)
	}
	return nil
}

// LedgerOption 账本可选配置
type LedgerOption func(*EscrowLedger)

// WithClock 注入时钟
func WithClock(now func() time.Time) LedgerOption {
	return func(l *EscrowLedger) { l.now = now }
}

// WithLedgerMetrics 注入指标
func WithLedgerMetrics(m LedgerMetrics) LedgerOption {
	return func(l *EscrowLedger) { l.metrics = m }
}

// WithEventTopic 设置 outbox 目标主题
func WithEventTopic(topic string) LedgerOption {
	return func(l *EscrowLedger) {
		if topic != "" {
			l.events.topic = topic
		}
	}
}

// EscrowLedger 托管账本
// 每次写操作：账户级进程内锁 -> 数据库事务 -> 行锁读取 -> 领域状态迁移 -> 流水追加 + 版本号 CAS 更新 -> outbox
type EscrowLedger struct {
	accounts domain.AccountRepository
	txs      domain.TransactionRepository
	uow      UnitOfWork
	events   eventWriter
	locks    *keyedMutex
	metrics  LedgerMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewEscrowLedger 创建托管账本
func NewEscrowLedger(
	accounts domain.AccountRepository,
	txs domain.TransactionRepository,
	publisher EventPublisher,
	uow UnitOfWork,
	logger *slog.Logger,
	opts ...LedgerOption,
) *EscrowLedger {
	l := &EscrowLedger{
		accounts: accounts,
		txs:      txs,
		uow:      uow,
		events:   eventWriter{publisher: publisher, topic: DefaultEventTopic},
		locks:    newKeyedMutex(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateAccountCommand 创建托管账户
type CreateAccountCommand struct {
	OpportunityID  string
	InvestorID     string
	EntrepreneurID string
	Amount         decimal.Decimal
	Currency       string
	Conditions     []domain.ReleaseCondition
}

// CreateAccount 创建 pending 托管账户
func (l *EscrowLedger) CreateAccount(ctx context.Context, cmd CreateAccountCommand) (acc *domain.EscrowAccount, err error) {
	defer func() { l.record("create", err) }()

	now := l.now()
	acc, err = domain.NewEscrowAccount(cmd.OpportunityID, cmd.InvestorID, cmd.EntrepreneurID, cmd.Amount, cmd.Currency, cmd.Conditions, now)
	if err != nil {
		return nil, err
	}

	err = l.uow.Do(ctx, func(ctx context.Context) error {
		if err := l.accounts.Create(ctx, acc); err != nil {
			return err
		}
		return l.events.write(ctx, domain.NewLedgerEvent(domain.EventAccountCreated, acc, nil, now))
	})
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to create escrow account", "opportunity_id", cmd.OpportunityID, "error", err)
		return nil, err
	}

	l.logger.InfoContext(ctx, "escrow account created",
		"account_id", acc.AccountID,
		"opportunity_id", acc.OpportunityID,
		"amount", acc.HeldAmount.String(),
		"conditions", len(acc.Conditions),
	)
	return acc, nil
}

// FundAccount 入金
func (l *EscrowLedger) FundAccount(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (*domain.EscrowTransaction, error) {
	_, tx, err := l.mutate(ctx, "fund", accountID, func(ctx context.Context, a *domain.EscrowAccount, now time.Time) (*domain.EscrowTransaction, string, error) {
		tx, err := a.Fund(ctx, amount, reference, now)
		return tx, domain.EventAccountFunded, err
	})
	return tx, err
}

// ReleaseFunds 向收款方放款，recipientID 为空时放给创业者
func (l *EscrowLedger) ReleaseFunds(ctx context.Context, accountID string, amount decimal.Decimal, recipientID, reason string) (*domain.EscrowTransaction, error) {
	_, tx, err := l.mutate(ctx, "release", accountID, func(ctx context.Context, a *domain.EscrowAccount, now time.Time) (*domain.EscrowTransaction, string, error) {
		tx, err := a.Release(ctx, amount, recipientID, reason, now)
		return tx, domain.EventFundsReleased, err
	})
	return tx, err
}

// ReleaseAvailable 在锁内重新确认条件与余额后，把全部可用余额放给创业者
// 不满足放款前提时返回 nil, nil 且不产生任何写入
func (l *EscrowLedger) ReleaseAvailable(ctx context.Context, accountID, reason string) (*domain.EscrowTransaction, error) {
	_, tx, err := l.mutate(ctx, "auto_release", accountID, func(ctx context.Context, a *domain.EscrowAccount, now time.Time) (*domain.EscrowTransaction, string, error) {
		if !a.Status.CanRelease() || !a.AvailableBalance.IsPositive() || !domain.AllConditionsMet(a.Conditions) {
			return nil, "", nil
		}
		tx, err := a.Release(ctx, a.AvailableBalance, a.EntrepreneurID, reason, now)
		return tx, domain.EventFundsReleased, err
	})
	return tx, err
}

// ChargeFee 扣收平台手续费
func (l *EscrowLedger) ChargeFee(ctx context.Context, accountID string, amount decimal.Decimal, reason string) (*domain.EscrowTransaction, error) {
	_, tx, err := l.mutate(ctx, "fee", accountID, func(ctx context.Context, a *domain.EscrowAccount, now time.Time) (*domain.EscrowTransaction, string, error) {
		tx, err := a.ChargeFee(ctx, amount, reason, now)
		return tx, domain.EventFeeCharged, err
	})
	return tx, err
}

// DisputeAccount 发起争议
func (l *EscrowLedger) DisputeAccount(ctx context.Context, accountID, reason string) (*domain.EscrowAccount, error) {
	acc, _, err := l.mutate(ctx, "dispute", accountID, func(ctx context.Context, a *domain.EscrowAccount, now time.Time) (*domain.EscrowTransaction, string, error) {
		return nil, domain.EventAccountDisputed, a.Dispute(ctx, reason, now)
	})
	return acc, err
}

// CancelAccount 取消托管并退款
func (l *EscrowLedger) CancelAccount(ctx context.Context, accountID, reason string) (*domain.EscrowAccount, *domain.EscrowTransaction, error) {
	return l.mutate(ctx, "cancel", accountID, func(ctx context.Context, a *domain.EscrowAccount, now time.Time) (*domain.EscrowTransaction, string, error) {
		tx, err := a.Cancel(ctx, reason, now)
		return tx, domain.EventAccountCancelled, err
	})
}

// GetAccount 查询账户
func (l *EscrowLedger) GetAccount(ctx context.Context, accountID string) (*domain.EscrowAccount, error) {
	return l.accounts.Get(ctx, accountID)
}

// ListTransactions 查询账户流水
func (l *EscrowLedger) ListTransactions(ctx context.Context, accountID string) ([]*domain.EscrowTransaction, error) {
	if _, err := l.accounts.Get(ctx, accountID); err != nil {
		return nil, err
	}
	return l.txs.ListByAccount(ctx, accountID)
}

// ListAccountsByOpportunity 按投资机会查询账户
func (l *EscrowLedger) ListAccountsByOpportunity(ctx context.Context, opportunityID string) ([]*domain.EscrowAccount, error) {
	return l.accounts.ListByOpportunity(ctx, opportunityID)
}

// ConservationReport 守恒校验结果
type ConservationReport struct {
	AccountID        string          `json:"account_id"`
	Status           string          `json:"status"`
	LedgerBalance    decimal.Decimal `json:"ledger_balance"`
	CustodiedBalance decimal.Decimal `json:"custodied_balance"`
	Transactions     int             `json:"transactions"`
	Balanced         bool            `json:"balanced"`
}

// VerifyConservation 在同一事务快照内比对账户余额与流水推导
func (l *EscrowLedger) VerifyConservation(ctx context.Context, accountID string) (*ConservationReport, error) {
	var (
		acc *domain.EscrowAccount
		txs []*domain.EscrowTransaction
	)
	err := l.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		if acc, err = l.accounts.Get(ctx, accountID); err != nil {
			return err
		}
		txs, err = l.txs.ListByAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	report := &ConservationReport{
		AccountID:        acc.AccountID,
		Status:           string(acc.Status),
		LedgerBalance:    domain.NetLedgerBalance(txs),
		CustodiedBalance: acc.CustodiedBalance(),
		Transactions:     len(txs),
		Balanced:         true,
	}
	if err := acc.VerifyConservation(txs); err != nil {
		report.Balanced = false
		l.logger.ErrorContext(ctx, "escrow conservation check failed", "account_id", accountID, "error", err)
		return report, err
	}
	return report, nil
}

type mutation func(ctx context.Context, a *domain.EscrowAccount, now time.Time) (*domain.EscrowTransaction, string, error)

func (l *EscrowLedger) mutate(ctx context.Context, op, accountID string, fn mutation) (acc *domain.EscrowAccount, tx *domain.EscrowTransaction, err error) {
	defer func() { l.record(op, err) }()

	unlock := l.locks.Lock(accountID)
	defer unlock()

	applied := false
	err = l.uow.Do(ctx, func(ctx context.Context) error {
		a, err := l.accounts.GetForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		now := l.now()
		t, eventType, err := fn(ctx, a, now)
		if err != nil {
			return err
		}
		if t == nil && eventType == "" {
			acc = a
			return nil
		}

		if t != nil {
			if err := l.txs.Append(ctx, t); err != nil {
				return err
			}
		}
		if err := l.accounts.Update(ctx, a); err != nil {
			return err
		}
		if err := l.events.write(ctx, domain.NewLedgerEvent(eventType, a, t, now)); err != nil {
			return err
		}
		acc, tx, applied = a, t, true
		return nil
	})
	if err != nil {
		if !isBusinessError(err) {
			l.logger.ErrorContext(ctx, "escrow ledger operation failed", "op", op, "account_id", accountID, "error", err)
		}
		return nil, nil, err
	}
	if !applied {
		return acc, nil, nil
	}

	if e, ok := l.accounts.(cacheEvicter); ok {
		e.Evict(ctx, accountID)
	}

	attrs := []any{"op", op, "account_id", accountID, "status", acc.Status, "available", acc.AvailableBalance.String()}
	if tx != nil {
		attrs = append(attrs, "transaction_id", tx.TransactionID, "amount", tx.Amount.String())
	}
	l.logger.InfoContext(ctx, "escrow ledger operation applied", attrs...)
	return acc, tx, nil
}

func (l *EscrowLedger) record(op string, err error) {
	if l.metrics != nil {
		l.metrics.RecordLedgerOp(op, err)
	}
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound,
		domain.ErrInvalidState,
		domain.ErrInsufficientFunds,
		domain.ErrInvalidAmount,
		domain.ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
