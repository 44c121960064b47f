package mysql

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/wyfcoding/investportal/internal/validation/domain"
)

// OpportunityModel 投资机会写模型
type OpportunityModel struct {
	gorm.Model
	OpportunityID  string         `gorm:"column:opportunity_id;type:varchar(64);uniqueIndex;not null;comment:机会ID"`
	Type           string         `gorm:"column:type;type:varchar(32);not null;default:'';comment:机会类型"`
	Status         string         `gorm:"column:status;type:varchar(20);index;not null;comment:状态"`
	Fields         datatypes.JSON `gorm:"column:fields;comment:领域属性"`
	RiskLevel      string         `gorm:"column:risk_level;type:varchar(16);not null;default:'';comment:风险等级"`
	LastValidation datatypes.JSON `gorm:"column:last_validation;comment:最近一次校验结果"`
	Version        int64          `gorm:"column:version;not null;default:0;comment:乐观锁版本"`
}

func (OpportunityModel) TableName() string { return "opportunities" }

// MilestoneModel 里程碑写模型
type MilestoneModel struct {
	gorm.Model
	OpportunityID        string              `gorm:"column:opportunity_id;type:varchar(64);uniqueIndex:uk_opp_milestone;not null;comment:机会ID"`
	MilestoneID          string              `gorm:"column:milestone_id;type:varchar(64);uniqueIndex:uk_opp_milestone;not null;comment:里程碑ID"`
	Position             int                 `gorm:"column:position;not null;default:0;comment:顺序"`
	Title                string              `gorm:"column:title;type:varchar(255);not null;comment:标题"`
	TargetDate           *time.Time          `gorm:"column:target_date;comment:目标日期"`
	Status               string              `gorm:"column:status;type:varchar(20);not null;comment:状态"`
	CompletionPercentage *int                `gorm:"column:completion_percentage;comment:完成百分比"`
	Dependencies         datatypes.JSON      `gorm:"column:dependencies;comment:依赖里程碑"`
	Budget               decimal.NullDecimal `gorm:"column:budget;type:decimal(32,8);comment:预算"`
	ActualCost           decimal.NullDecimal `gorm:"column:actual_cost;type:decimal(32,8);comment:实际成本"`
}

func (MilestoneModel) TableName() string { return "opportunity_milestones" }

func toOpportunityModel(o *domain.Opportunity) (*OpportunityModel, error) {
	fields, err := json.Marshal(o.Fields)
	if err != nil {
		return nil, err
	}
	m := &OpportunityModel{
		OpportunityID: o.OpportunityID,
		Type:          o.Type,
		Status:        string(o.Status),
		Fields:        datatypes.JSON(fields),
		RiskLevel:     string(o.RiskLevel),
		Version:       o.Version,
	}
	if o.LastValidation != nil {
		raw, err := json.Marshal(o.LastValidation)
		if err != nil {
			return nil, err
		}
		m.LastValidation = datatypes.JSON(raw)
	}
	return m, nil
}

func toMilestoneModels(opportunityID string, milestones []domain.Milestone) ([]*MilestoneModel, error) {
	out := make([]*MilestoneModel, 0, len(milestones))
	for i, ms := range milestones {
		deps, err := json.Marshal(ms.Dependencies)
		if err != nil {
			return nil, err
		}
		m := &MilestoneModel{
			OpportunityID:        opportunityID,
			MilestoneID:          ms.MilestoneID,
			Position:             i,
			Title:                ms.Title,
			Status:               string(ms.Status),
			CompletionPercentage: ms.CompletionPercentage,
			Dependencies:         datatypes.JSON(deps),
		}
		if !ms.TargetDate.IsZero() {
			t := ms.TargetDate.UTC()
			m.TargetDate = &t
		}
		if ms.Budget != nil {
			m.Budget = decimal.NewNullDecimal(*ms.Budget)
		}
		if ms.ActualCost != nil {
			m.ActualCost = decimal.NewNullDecimal(*ms.ActualCost)
		}
		out = append(out, m)
	}
	return out, nil
}

func toOpportunity(m *OpportunityModel, milestones []*MilestoneModel) (*domain.Opportunity, error) {
	o := &domain.Opportunity{
		OpportunityID: m.OpportunityID,
		Type:          m.Type,
		Status:        domain.OpportunityStatus(m.Status),
		Fields:        map[string]any{},
		RiskLevel:     domain.RiskLevel(m.RiskLevel),
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if len(m.Fields) > 0 {
		// UseNumber 保留数值精度，规则按 decimal 读取
		dec := json.NewDecoder(bytes.NewReader(m.Fields))
		dec.UseNumber()
		if err := dec.Decode(&o.Fields); err != nil {
			return nil, err
		}
		if o.Fields == nil {
			o.Fields = map[string]any{}
		}
	}
	if len(m.LastValidation) > 0 {
		var result domain.ValidationResult
		if err := json.Unmarshal(m.LastValidation, &result); err != nil {
			return nil, err
		}
		o.LastValidation = &result
	}

	o.Milestones = make([]domain.Milestone, 0, len(milestones))
	for _, mm := range milestones {
		ms := domain.Milestone{
			MilestoneID:          mm.MilestoneID,
			Title:                mm.Title,
			Status:               domain.MilestoneStatus(mm.Status),
			CompletionPercentage: mm.CompletionPercentage,
		}
		if mm.TargetDate != nil {
			ms.TargetDate = mm.TargetDate.UTC()
		}
		if len(mm.Dependencies) > 0 {
			if err := json.Unmarshal(mm.Dependencies, &ms.Dependencies); err != nil {
				return nil, err
			}
		}
		if mm.Budget.Valid {
			b := mm.Budget.Decimal
			ms.Budget = &b
		}
		if mm.ActualCost.Valid {
			c := mm.ActualCost.Decimal
			ms.ActualCost = &c
		}
		o.Milestones = append(o.Milestones, ms)
	}
	return o, nil
}
