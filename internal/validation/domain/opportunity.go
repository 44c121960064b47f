// 包 domain 投资机会校验服务的领域模型
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityStatus 投资机会状态
type OpportunityStatus string

const (
	OpportunityStatusDraft       OpportunityStatus = "draft"
	OpportunityStatusSubmitted   OpportunityStatus = "submitted"
	OpportunityStatusUnderReview OpportunityStatus = "under_review"
	OpportunityStatusApproved    OpportunityStatus = "approved"
	OpportunityStatusFunded      OpportunityStatus = "funded"
	OpportunityStatusRejected    OpportunityStatus = "rejected"
	OpportunityStatusClosed      OpportunityStatus = "closed"
)

// IsTerminal 终态（rejected, closed）下机会不可再修改
func (s OpportunityStatus) IsTerminal() bool {
	return s == OpportunityStatusRejected || s == OpportunityStatusClosed
}

// IsValid 判断状态取值是否合法
func (s OpportunityStatus) IsValid() bool {
	switch s {
	case OpportunityStatusDraft, OpportunityStatusSubmitted, OpportunityStatusUnderReview,
		OpportunityStatusApproved, OpportunityStatusFunded, OpportunityStatusRejected, OpportunityStatusClosed:
		return true
	}
	return false
}

// MilestoneStatus 里程碑状态
type MilestoneStatus string

const (
	MilestoneStatusPending    MilestoneStatus = "pending"
	MilestoneStatusInProgress MilestoneStatus = "in_progress"
	MilestoneStatusCompleted  MilestoneStatus = "completed"
	MilestoneStatusOverdue    MilestoneStatus = "overdue"
	MilestoneStatusCancelled  MilestoneStatus = "cancelled"
)

// Opportunity 投资机会快照
// Fields 为自由键值的领域属性（funding_goal, equity_offered 等），规则按键读取
type Opportunity struct {
	OpportunityID  string            `json:"opportunity_id"`
	Type           string            `json:"type"`
	Status         OpportunityStatus `json:"status"`
	Fields         map[string]any    `json:"fields"`
	Milestones     []Milestone       `json:"milestones"`
	RiskLevel      RiskLevel         `json:"risk_level,omitempty"`
	LastValidation *ValidationResult `json:"last_validation,omitempty"`
	Version        int64             `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Milestone 里程碑，属于唯一的投资机会
type Milestone struct {
	MilestoneID string          `json:"milestone_id"`
	Title       string          `json:"title"`
	TargetDate  time.Time       `json:"target_date"`
	Status      MilestoneStatus `json:"status"`
	// 完成百分比，可选，合法区间 [0,100]
	CompletionPercentage *int `json:"completion_percentage,omitempty"`
	// 依赖的其他里程碑 ID
	Dependencies []string         `json:"dependencies,omitempty"`
	Budget       *decimal.Decimal `json:"budget,omitempty"`
	ActualCost   *decimal.Decimal `json:"actual_cost,omitempty"`
}

// Milestone 按 ID 查找里程碑
func (o *Opportunity) Milestone(milestoneID string) (*Milestone, bool) {
	for i := range o.Milestones {
		if o.Milestones[i].MilestoneID == milestoneID {
			return &o.Milestones[i], true
		}
	}
	return nil, false
}

// CompleteMilestone 标记里程碑完成
func (o *Opportunity) CompleteMilestone(milestoneID string) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: opportunity %s is %s", ErrOpportunityImmutable, o.OpportunityID, o.Status)
	}
	m, ok := o.Milestone(milestoneID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMilestoneNotFound, milestoneID)
	}
	full := 100
	m.Status = MilestoneStatusCompleted
	m.CompletionPercentage = &full
	return nil
}

// Has 字段存在且非 nil
func (o *Opportunity) Has(key string) bool {
	v, ok := o.Fields[key]
	return ok && v != nil
}

// String 读取字符串字段，非字符串按 fmt 格式化
func (o *Opportunity) String(key string) string {
	v, ok := o.Fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

// Bool 读取布尔字段，兼容 "true"/"false" 字符串
func (o *Opportunity) Bool(key string) bool {
	switch v := o.Fields[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}

// Decimal 读取数值字段
// 第二个返回值为 false 表示字段缺失；字段存在但无法解析时返回错误
func (o *Opportunity) Decimal(key string) (decimal.Decimal, bool, error) {
	v, ok := o.Fields[key]
	if !ok || v == nil {
		return decimal.Zero, false, nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return decimal.Zero, true, fmt.Errorf("field %s: %w", key, err)
	}
	return d, true, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
	}
}
