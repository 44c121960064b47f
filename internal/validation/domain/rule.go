package domain

import "fmt"

// RuleCategory 规则分类
type RuleCategory string

const (
	CategoryFinancial   RuleCategory = "financial"
	CategoryLegal       RuleCategory = "legal"
	CategoryOperational RuleCategory = "operational"
	CategoryTechnical   RuleCategory = "technical"
	CategoryCompliance  RuleCategory = "compliance"
)

// Severity 规则严重程度
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Weight 未通过时计入的风险分
func (s Severity) Weight() int {
	switch s {
	case SeverityError, SeverityCritical:
		return 10
	case SeverityWarning:
		return 5
	default:
		return 1
	}
}

// ValidationRule 校验规则
// Check 返回 true 表示通过；返回错误或 panic 的规则会被跳过
type ValidationRule struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Category       RuleCategory `json:"category"`
	Severity       Severity     `json:"severity"`
	Recommendation string       `json:"recommendation,omitempty"`

	Check   func(o *Opportunity) (bool, error) `json:"-"`
	Message func(o *Opportunity) string        `json:"-"`
}

// Validate 检查规则定义是否完整
func (r ValidationRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if r.Check == nil {
		return fmt.Errorf("%w: rule %s has no check function", ErrInvalidRule, r.ID)
	}
	switch r.Category {
	case CategoryFinancial, CategoryLegal, CategoryOperational, CategoryTechnical, CategoryCompliance:
	default:
		return fmt.Errorf("%w: rule %s has unknown category %q", ErrInvalidRule, r.ID, r.Category)
	}
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
	default:
		return fmt.Errorf("%w: rule %s has unknown severity %q", ErrInvalidRule, r.ID, r.Severity)
	}
	return nil
}

// staticMessage 固定文案
func staticMessage(msg string) func(*Opportunity) string {
	return func(*Opportunity) string { return msg }
}
