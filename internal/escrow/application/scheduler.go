package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wyfcoding/investportal/internal/escrow/domain"
)

// AutoReleaseReason 自动放款流水原因
const AutoReleaseReason = "automatic release — all conditions met"

// DefaultAutoReleaseSchedule 默认巡检频率
const DefaultAutoReleaseSchedule = "@every 1m"

// AutoReleaseMetrics 自动放款指标
type AutoReleaseMetrics interface {
	RecordAutoRelease(outcome string)
}

// SchedulerOption 调度器可选配置
type SchedulerOption func(*AutoReleaseScheduler)

// WithSchedule 设置 cron 表达式
func WithSchedule(spec string) SchedulerOption {
	return func(s *AutoReleaseScheduler) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithBatchSize 设置巡检分页大小
func WithBatchSize(n int) SchedulerOption {
	return func(s *AutoReleaseScheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithAutoReleaseMetrics 注入指标
func WithAutoReleaseMetrics(m AutoReleaseMetrics) SchedulerOption {
	return func(s *AutoReleaseScheduler) { s.metrics = m }
}

// AutoReleaseScheduler 条件满足后自动放款
// 两条触发路径：cron 定时巡检 Sweep 与事件驱动 OnSignal
type AutoReleaseScheduler struct {
	ledger    *EscrowLedger
	tracker   *ReleaseConditionTracker
	accounts  domain.AccountRepository
	metrics   AutoReleaseMetrics
	logger    *slog.Logger
	schedule  string
	batchSize int
}

// NewAutoReleaseScheduler 创建自动放款调度器
func NewAutoReleaseScheduler(
	ledger *EscrowLedger,
	tracker *ReleaseConditionTracker,
	accounts domain.AccountRepository,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *AutoReleaseScheduler {
	s := &AutoReleaseScheduler{
		ledger:    ledger,
		tracker:   tracker,
		accounts:  accounts,
		logger:    logger,
		schedule:  DefaultAutoReleaseSchedule,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoReleaseIfConditionsMet 条件全部满足且有可用余额时放出全部余额，返回是否放款
// 重复调用是安全的：余额归零后再次调用返回 false 且无副作用
func (s *AutoReleaseScheduler) AutoReleaseIfConditionsMet(ctx context.Context, accountID string) (bool, error) {
	met, err := s.tracker.CheckReleaseConditions(ctx, accountID)
	if err != nil {
		s.record("error")
		return false, err
	}
	if !met {
		s.record("skipped")
		return false, nil
	}

	tx, err := s.ledger.ReleaseAvailable(ctx, accountID, AutoReleaseReason)
	if err != nil {
		s.record("error")
		return false, err
	}
	if tx == nil {
		s.record("skipped")
		return false, nil
	}

	s.record("released")
	s.logger.InfoContext(ctx, "escrow auto-released",
		"account_id", accountID, "transaction_id", tx.TransactionID, "amount", tx.Amount.String())
	return true, nil
}

// Sweep 分页巡检可放款账户，单个账户失败不影响其余账户
func (s *AutoReleaseScheduler) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	released, scanned := 0, 0
	var errs []error

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		page, err := s.accounts.ListReleasable(ctx, cursor, s.batchSize)
		if err != nil {
			return released, fmt.Errorf("failed to list releasable accounts: %w", err)
		}
		for _, acc := range page {
			scanned++
			if !domain.AllConditionsMet(acc.Conditions) {
				continue
			}
			ok, err := s.AutoReleaseIfConditionsMet(ctx, acc.AccountID)
			if err != nil {
				s.logger.ErrorContext(ctx, "auto-release failed", "account_id", acc.AccountID, "error", err)
				errs = append(errs, err)
				continue
			}
			if ok {
				released++
			}
		}
		if len(page) < s.batchSize {
			break
		}
		cursor = page[len(page)-1].AccountID
	}

	s.logger.InfoContext(ctx, "auto-release sweep finished",
		"scanned", scanned, "released", released, "failed", len(errs), "duration", time.Since(start))
	return released, errors.Join(errs...)
}

// OnSignal 外部事件到达：标记命中条件后对受影响账户尝试放款
func (s *AutoReleaseScheduler) OnSignal(ctx context.Context, signal domain.Signal) (int, error) {
	if err := signal.Validate(); err != nil {
		return 0, err
	}

	accountIDs, err := s.tracker.MarkConditionsByReference(ctx, signal)
	if err != nil {
		return 0, err
	}

	released := 0
	var errs []error
	for _, id := range accountIDs {
		ok, err := s.AutoReleaseIfConditionsMet(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", id, err))
			continue
		}
		if ok {
			released++
		}
	}
	return released, errors.Join(errs...)
}

// Start 按 cron 表达式运行巡检，阻塞直到 ctx 取消
func (s *AutoReleaseScheduler) Start(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "auto-release sweep completed with errors", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid auto-release schedule %q: %w", s.schedule, err)
	}

	s.logger.Info("auto-release scheduler started", "schedule", s.schedule, "batch_size", s.batchSize)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("auto-release scheduler stopped")
	return nil
}

func (s *AutoReleaseScheduler) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAutoRelease(outcome)
	}
}
