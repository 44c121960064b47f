// Package application 投资机会校验服务应用层
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wyfcoding/investportal/internal/validation/domain"
)

// 发往托管账本的放款条件信号类型
const (
	SignalMilestoneCompletion = "milestone_completion"
	SignalValidationCompliant = "validation_compliant"
)

// SignalSink 放款条件信号出口，由托管侧实现
// 里程碑 ID 只在投资机会内唯一，信号总是带上 opportunityID
type SignalSink interface {
	Emit(ctx context.Context, signalType, opportunityID, referenceID string) error
}

// MetricsRecorder 校验指标
type MetricsRecorder interface {
	RecordValidation(complianceStatus string, riskScore int)
}

// ValidationService 投资机会校验应用服务
type ValidationService struct {
	repo    domain.OpportunityRepository
	engine  *domain.RuleEngine
	signals SignalSink
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewValidationService 创建校验服务，signals 与 metrics 可为 nil
func NewValidationService(
	repo domain.OpportunityRepository,
	engine *domain.RuleEngine,
	signals SignalSink,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *ValidationService {
	return &ValidationService{
		repo:    repo,
		engine:  engine,
		signals: signals,
		metrics: metrics,
		logger:  logger,
	}
}

// SubmitOpportunityCommand 提交/更新投资机会
type SubmitOpportunityCommand struct {
	OpportunityID string
	Type          string
	Status        domain.OpportunityStatus
	Fields        map[string]any
	Milestones    []domain.Milestone
}

// SubmitOpportunity 新建或整体更新机会快照，终态机会拒绝修改
func (s *ValidationService) SubmitOpportunity(ctx context.Context, cmd SubmitOpportunityCommand) (*domain.Opportunity, error) {
	if err := validateSubmit(cmd); err != nil {
		return nil, err
	}

	var opp *domain.Opportunity
	if cmd.OpportunityID != "" {
		existing, err := s.repo.Get(ctx, cmd.OpportunityID)
		switch {
		case err == nil:
			opp = existing
		case errors.Is(err, domain.ErrOpportunityNotFound):
		default:
			return nil, err
		}
	}

	if opp == nil {
		id := cmd.OpportunityID
		if id == "" {
			id = "OPP-" + uuid.NewString()
		}
		opp = &domain.Opportunity{OpportunityID: id, Status: domain.OpportunityStatusSubmitted}
	} else if opp.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrOpportunityImmutable, opp.OpportunityID, opp.Status)
	}

	opp.Type = cmd.Type
	if cmd.Status != "" {
		opp.Status = cmd.Status
	}
	opp.Fields = cmd.Fields
	if opp.Fields == nil {
		opp.Fields = map[string]any{}
	}
	opp.Milestones = cmd.Milestones
	for i := range opp.Milestones {
		if opp.Milestones[i].Status == "" {
			opp.Milestones[i].Status = domain.MilestoneStatusPending
		}
	}

	if err := s.repo.Save(ctx, opp); err != nil {
		s.logger.ErrorContext(ctx, "failed to save opportunity", "opportunity_id", opp.OpportunityID, "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "opportunity submitted", "opportunity_id", opp.OpportunityID, "status", opp.Status, "milestones", len(opp.Milestones))
	return opp, nil
}

// ValidateOpportunity 执行规则校验并保存结果，合规时发出 validation_compliant 信号
// 终态机会只返回结果，不落库也不发信号
func (s *ValidationService) ValidateOpportunity(ctx context.Context, opportunityID string) (*domain.ValidationResult, error) {
	opp, err := s.repo.Get(ctx, opportunityID)
	if err != nil {
		return nil, err
	}

	result := s.engine.ValidateOpportunity(ctx, opp)
	if s.metrics != nil {
		s.metrics.RecordValidation(string(result.ComplianceStatus), result.RiskScore)
	}
	s.logger.InfoContext(ctx, "opportunity validated",
		"opportunity_id", opp.OpportunityID,
		"risk_score", result.RiskScore,
		"compliance_status", result.ComplianceStatus,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings),
	)

	if opp.Status.IsTerminal() {
		return result, nil
	}

	for i := range opp.Milestones {
		opp.Milestones[i].Status = s.engine.EvaluateMilestoneStatus(opp.Milestones[i])
	}
	opp.LastValidation = result
	opp.RiskLevel = result.RiskLevel
	if err := s.repo.Save(ctx, opp); err != nil {
		return nil, err
	}

	if result.ComplianceStatus == domain.ComplianceCompliant {
		s.emit(ctx, SignalValidationCompliant, opp.OpportunityID, opp.OpportunityID)
	}
	return result, nil
}

// CompleteMilestone 标记里程碑完成并发出 milestone_completion 信号
func (s *ValidationService) CompleteMilestone(ctx context.Context, opportunityID, milestoneID string) (*domain.Opportunity, error) {
	opp, err := s.repo.Get(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	if err := opp.CompleteMilestone(milestoneID); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, opp); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "milestone completed", "opportunity_id", opportunityID, "milestone_id", milestoneID)
	s.emit(ctx, SignalMilestoneCompletion, opportunityID, milestoneID)
	return opp, nil
}

// GetOpportunity 查询投资机会
func (s *ValidationService) GetOpportunity(ctx context.Context, opportunityID string) (*domain.Opportunity, error) {
	return s.repo.Get(ctx, opportunityID)
}

// AddRule 运行时注册声明式规则
func (s *ValidationService) AddRule(ctx context.Context, spec domain.RuleSpec) error {
	rule, err := spec.Compile()
	if err != nil {
		return err
	}
	return s.engine.AddCustomRule(rule)
}

// ListRules 列出规则，category 为空返回全部
func (s *ValidationService) ListRules(_ context.Context, category domain.RuleCategory) []domain.ValidationRule {
	if category == "" {
		return s.engine.Rules()
	}
	return s.engine.RulesByCategory(category)
}

// 信号投递失败只记录日志，消费侧的定时巡检兜底
func (s *ValidationService) emit(ctx context.Context, signalType, opportunityID, referenceID string) {
	if s.signals == nil {
		return
	}
	if err := s.signals.Emit(ctx, signalType, opportunityID, referenceID); err != nil {
		s.logger.WarnContext(ctx, "failed to emit release signal",
			"type", signalType, "opportunity_id", opportunityID, "reference_id", referenceID, "error", err)
	}
}

func validateSubmit(cmd SubmitOpportunityCommand) error {
	if cmd.Status != "" && !cmd.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidOpportunity, cmd.Status)
	}
	seen := make(map[string]struct{}, len(cmd.Milestones))
	for _, m := range cmd.Milestones {
		if m.MilestoneID == "" {
			return fmt.Errorf("%w: milestone id is required", domain.ErrInvalidOpportunity)
		}
		if _, dup := seen[m.MilestoneID]; dup {
			return fmt.Errorf("%w: duplicate milestone id %s", domain.ErrInvalidOpportunity, m.MilestoneID)
		}
		seen[m.MilestoneID] = struct{}{}
	}
	return nil
}
