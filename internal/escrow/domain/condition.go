package domain

import (
	"fmt"
	"time"
)

// ConditionType 放款条件类型
type ConditionType string

const (
	// ConditionMilestoneCompletion ReferenceID 为里程碑 ID
	ConditionMilestoneCompletion ConditionType = "milestone_completion"
	// ConditionDocumentUpload ReferenceID 为文档类型
	ConditionDocumentUpload ConditionType = "document_upload"
	// ConditionValidationCompliant ReferenceID 为投资机会 ID
	ConditionValidationCompliant ConditionType = "validation_compliant"
	// ConditionManualApproval 只能人工标记
	ConditionManualApproval ConditionType = "manual_approval"
)

// IsValid 是否为已知条件类型
func (t ConditionType) IsValid() bool {
	switch t {
	case ConditionMilestoneCompletion, ConditionDocumentUpload, ConditionValidationCompliant, ConditionManualApproval:
		return true
	default:
		return false
	}
}

// ReleaseCondition 放款条件
type ReleaseCondition struct {
	ConditionID   string        `json:"condition_id"`
	AccountID     string        `json:"account_id"`
	ConditionType ConditionType `json:"condition_type"`
	ReferenceID   string        `json:"reference_id,omitempty"`
	Description   string        `json:"description,omitempty"`
	IsMet         bool          `json:"is_met"`
	DueDate       *time.Time    `json:"due_date,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Position      int           `json:"position"`
}

// Validate 校验条件定义
func (c ReleaseCondition) Validate() error {
	if !c.ConditionType.IsValid() {
		return fmt.Errorf("%w: unknown condition type %q", ErrInvalidInput, c.ConditionType)
	}
	if c.ConditionType != ConditionManualApproval && c.ReferenceID == "" {
		return fmt.Errorf("%w: %s condition requires a reference id", ErrInvalidInput, c.ConditionType)
	}
	return nil
}

// MarkMet 标记满足，已满足时返回 false
func (c *ReleaseCondition) MarkMet(now time.Time) bool {
	if c.IsMet {
		return false
	}
	c.IsMet = true
	c.CompletedAt = &now
	return true
}

// Matches 信号是否命中该条件，opportunityID 为条件所属账户的投资机会
func (c ReleaseCondition) Matches(s Signal, opportunityID string) bool {
	return c.ConditionType == s.Type && c.ReferenceID == s.ReferenceID && s.OpportunityID == opportunityID
}

// AllConditionsMet 全部满足才可放款，空列表视为不可放款
func AllConditionsMet(conds []ReleaseCondition) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !c.IsMet {
			return false
		}
	}
	return true
}

// Signal 外部事件带来的条件满足信号
// 里程碑 ID 与文档类型只在单个投资机会内唯一，信号必须携带 OpportunityID
type Signal struct {
	Type          ConditionType `json:"type"`
	OpportunityID string        `json:"opportunity_id"`
	ReferenceID   string        `json:"reference_id"`
}

// Validate 校验信号，validation_compliant 的 ReferenceID 即投资机会 ID
func (s *Signal) Validate() error {
	if !s.Type.IsValid() || s.Type == ConditionManualApproval {
		return fmt.Errorf("%w: unsupported signal type %q", ErrInvalidInput, s.Type)
	}
	if s.ReferenceID == "" {
		return fmt.Errorf("%w: signal reference id is required", ErrInvalidInput)
	}
	if s.OpportunityID == "" && s.Type == ConditionValidationCompliant {
		s.OpportunityID = s.ReferenceID
	}
	if s.OpportunityID == "" {
		return fmt.Errorf("%w: %s signal requires an opportunity id", ErrInvalidInput, s.Type)
	}
	return nil
}
