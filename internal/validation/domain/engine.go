package domain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	milestoneOverdueScore    = 15
	milestoneRangeScore      = 5
	milestoneOverBudgetScore = 10
	milestoneDependencyScore = 5

	// 警告数超过该值需要人工复核
	reviewWarningThreshold = 5
)

var (
	complianceKeywords = regexp.MustCompile(`(?i)\b(compliance|regulatory|kyc|aml)\b`)
	budgetTolerance    = decimal.NewFromFloat(1.2)
)

// FailureObserver 接收被跳过的异常规则
type FailureObserver interface {
	RecordRuleFailure(ruleID string)
}

// RuleEngine 规则引擎
// 规则按注册顺序保存；每次评估先在读锁下取快照，评估过程不持锁
type RuleEngine struct {
	mu       sync.RWMutex
	rules    []ValidationRule
	index    map[string]struct{}
	log      *slog.Logger
	now      func() time.Time
	observer FailureObserver
}

// EngineOption 引擎构造选项
type EngineOption func(*RuleEngine)

// WithLogger 设置日志
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *RuleEngine) { e.log = log }
}

// WithClock 设置时钟，测试中固定当前时间
func WithClock(now func() time.Time) EngineOption {
	return func(e *RuleEngine) { e.now = now }
}

// WithRules 设置初始规则集
func WithRules(rules ...ValidationRule) EngineOption {
	return func(e *RuleEngine) {
		for _, r := range rules {
			if err := e.register(r); err != nil {
				e.log.Warn("initial rule rejected", "rule_id", r.ID, "error", err)
			}
		}
	}
}

// WithFailureObserver 设置异常规则观察者（指标）
func WithFailureObserver(o FailureObserver) EngineOption {
	return func(e *RuleEngine) { e.observer = o }
}

// NewRuleEngine 创建规则引擎，不传 WithRules 时规则集为空
func NewRuleEngine(opts ...EngineOption) *RuleEngine {
	e := &RuleEngine{
		index: make(map[string]struct{}),
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddCustomRule 运行时追加规则，ID 重复或定义不完整时拒绝
func (e *RuleEngine) AddCustomRule(rule ValidationRule) error {
	if err := e.register(rule); err != nil {
		return err
	}
	e.log.Info("validation rule registered", "rule_id", rule.ID, "category", rule.Category, "severity", rule.Severity)
	return nil
}

func (e *RuleEngine) register(rule ValidationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Message == nil {
		rule.Message = staticMessage(rule.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.index[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}
	e.index[rule.ID] = struct{}{}
	e.rules = append(e.rules, rule)
	return nil
}

// Rules 返回规则集副本
func (e *RuleEngine) Rules() []ValidationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ValidationRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// RulesByCategory 按分类过滤规则
func (e *RuleEngine) RulesByCategory(category RuleCategory) []ValidationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ValidationRule, 0)
	for _, r := range e.rules {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

// EvaluateMilestoneStatus 以引擎时钟计算里程碑状态
func (e *RuleEngine) EvaluateMilestoneStatus(m Milestone) MilestoneStatus {
	return m.Evaluate(e.now())
}

// RiskLevel 风险分映射等级
func (e *RuleEngine) RiskLevel(score int) RiskLevel {
	return RiskLevelFor(score)
}

// ValidateOpportunity 对投资机会执行全部规则与里程碑检查
// 单条规则出错或 panic 时记录日志并跳过，始终返回结果
func (e *RuleEngine) ValidateOpportunity(ctx context.Context, o *Opportunity) *ValidationResult {
	now := e.now()
	result := newValidationResult(now)
	if o == nil {
		o = &Opportunity{}
	}

	e.mu.RLock()
	rules := make([]ValidationRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	for _, rule := range rules {
		passed, msg, ok := e.evaluate(ctx, rule, o)
		if !ok || passed {
			continue
		}
		score := rule.Severity.Weight()
		result.add(Finding{
			RuleID:   rule.ID,
			Category: rule.Category,
			Severity: rule.Severity,
			Message:  msg,
			Score:    score,
		})
		result.RuleRiskScore += score
		result.recommend(rule.Recommendation)
	}

	for _, f := range checkMilestones(o.Milestones, now) {
		result.add(f)
		result.MilestoneRiskScore += f.Score
		result.recommend(milestoneRecommendation(f.RuleID))
	}

	result.RiskScore = min(result.RuleRiskScore+result.MilestoneRiskScore, MaxRiskScore)
	result.RiskLevel = RiskLevelFor(result.RiskScore)
	result.Valid = len(result.Errors) == 0
	result.ComplianceStatus = classifyCompliance(result)
	return result
}

func (e *RuleEngine) evaluate(ctx context.Context, rule ValidationRule, o *Opportunity) (passed bool, msg string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			e.skip(ctx, rule.ID, fmt.Errorf("panic: %v", rec))
			passed, msg, ok = false, "", false
		}
	}()

	passed, err := rule.Check(o)
	if err != nil {
		e.skip(ctx, rule.ID, err)
		return false, "", false
	}
	if passed {
		return true, "", true
	}
	return false, rule.Message(o), true
}

func (e *RuleEngine) skip(ctx context.Context, ruleID string, err error) {
	e.log.WarnContext(ctx, "validation rule failed, skipping", "rule_id", ruleID, "error", err)
	if e.observer != nil {
		e.observer.RecordRuleFailure(ruleID)
	}
}

func checkMilestones(milestones []Milestone, now time.Time) []Finding {
	byID := make(map[string]*Milestone, len(milestones))
	for i := range milestones {
		byID[milestones[i].MilestoneID] = &milestones[i]
	}

	var findings []Finding
	for _, m := range milestones {
		if !m.TargetDate.IsZero() && m.TargetDate.Before(now) && m.Status != MilestoneStatusCompleted {
			findings = append(findings, Finding{
				RuleID:      "milestone.overdue",
				Category:    CategoryOperational,
				Severity:    SeverityError,
				Message:     fmt.Sprintf("Milestone %q is overdue (target date %s)", m.Title, m.TargetDate.Format("2006-01-02")),
				MilestoneID: m.MilestoneID,
				Score:       milestoneOverdueScore,
			})
		}
		if p := m.CompletionPercentage; p != nil && (*p < 0 || *p > 100) {
			findings = append(findings, Finding{
				RuleID:      "milestone.completion_range",
				Category:    CategoryOperational,
				Severity:    SeverityError,
				Message:     fmt.Sprintf("Milestone %q has invalid completion percentage %d: must be between 0 and 100", m.Title, *p),
				MilestoneID: m.MilestoneID,
				Score:       milestoneRangeScore,
			})
		}
		if m.Budget != nil && m.ActualCost != nil && m.ActualCost.GreaterThan(m.Budget.Mul(budgetTolerance)) {
			findings = append(findings, Finding{
				RuleID:      "milestone.budget_overrun",
				Category:    CategoryFinancial,
				Severity:    SeverityWarning,
				Message:     fmt.Sprintf("Milestone %q actual cost %s exceeds budget %s by more than 20%%", m.Title, m.ActualCost.String(), m.Budget.String()),
				MilestoneID: m.MilestoneID,
				Score:       milestoneOverBudgetScore,
			})
		}
		for _, dep := range m.Dependencies {
			if d, ok := byID[dep]; ok && d.Status == MilestoneStatusCompleted {
				continue
			}
			findings = append(findings, Finding{
				RuleID:      "milestone.dependency",
				Category:    CategoryOperational,
				Severity:    SeverityWarning,
				Message:     fmt.Sprintf("Milestone %q depends on %s which is not completed", m.Title, dep),
				MilestoneID: m.MilestoneID,
				Score:       milestoneDependencyScore,
			})
		}
	}
	return findings
}

func milestoneRecommendation(ruleID string) string {
	switch ruleID {
	case "milestone.overdue":
		return "Update overdue milestones with a revised target date or mark them completed"
	case "milestone.completion_range":
		return "Report milestone completion as a percentage between 0 and 100"
	case "milestone.budget_overrun":
		return "Review milestone spending against the approved budget"
	case "milestone.dependency":
		return "Complete prerequisite milestones before starting dependent work"
	}
	return ""
}

func classifyCompliance(r *ValidationResult) ComplianceStatus {
	for _, msg := range r.Errors {
		if complianceKeywords.MatchString(msg) {
			return ComplianceNonCompliant
		}
	}
	if len(r.Errors) > 0 || len(r.Warnings) > reviewWarningThreshold {
		return ComplianceRequiresReview
	}
	return ComplianceCompliant
}
