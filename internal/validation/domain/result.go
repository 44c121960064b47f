package domain

import "time"

// ComplianceStatus 合规结论
type ComplianceStatus string

const (
	ComplianceCompliant      ComplianceStatus = "compliant"
	ComplianceNonCompliant   ComplianceStatus = "non_compliant"
	ComplianceRequiresReview ComplianceStatus = "requires_review"
)

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// MaxRiskScore 风险分上限
const MaxRiskScore = 100

// RiskLevelFor 风险分映射等级：<30 low, <60 medium, <80 high, 其余 critical
func RiskLevelFor(score int) RiskLevel {
	switch {
	case score < 30:
		return RiskLevelLow
	case score < 60:
		return RiskLevelMedium
	case score < 80:
		return RiskLevelHigh
	default:
		return RiskLevelCritical
	}
}

// Finding 单条未通过的检查
type Finding struct {
	RuleID      string       `json:"rule_id"`
	Category    RuleCategory `json:"category"`
	Severity    Severity     `json:"severity"`
	Message     string       `json:"message"`
	MilestoneID string       `json:"milestone_id,omitempty"`
	Score       int          `json:"score"`
}

// ValidationResult 一次校验的结果，每次校验重新生成
type ValidationResult struct {
	Valid    bool      `json:"valid"`
	Errors   []string  `json:"errors"`
	Warnings []string  `json:"warnings"`
	Info     []string  `json:"info"`
	Findings []Finding `json:"findings"`
	// 总风险分，封顶 100
	RiskScore int `json:"risk_score"`
	// 规则与里程碑各自贡献的原始分（未封顶）
	RuleRiskScore      int `json:"rule_risk_score"`
	MilestoneRiskScore int `json:"milestone_risk_score"`

	RiskLevel        RiskLevel        `json:"risk_level"`
	Recommendations  []string         `json:"recommendations"`
	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	EvaluatedAt      time.Time        `json:"evaluated_at"`
}

func newValidationResult(now time.Time) *ValidationResult {
	return &ValidationResult{
		Errors:          []string{},
		Warnings:        []string{},
		Info:            []string{},
		Findings:        []Finding{},
		Recommendations: []string{},
		EvaluatedAt:     now,
	}
}

func (r *ValidationResult) add(f Finding) {
	switch f.Severity {
	case SeverityError, SeverityCritical:
		r.Errors = append(r.Errors, f.Message)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, f.Message)
	default:
		r.Info = append(r.Info, f.Message)
	}
	r.Findings = append(r.Findings, f)
}

func (r *ValidationResult) recommend(rec string) {
	if rec == "" {
		return
	}
	for _, existing := range r.Recommendations {
		if existing == rec {
			return
		}
	}
	r.Recommendations = append(r.Recommendations, rec)
}
