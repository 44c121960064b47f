package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	minFundingGoal       = decimal.NewFromInt(1_000)
	maxFundingGoal       = decimal.NewFromInt(100_000_000)
	accreditedRaiseLimit = decimal.NewFromInt(5_000_000)
	valuationTolerance   = decimal.NewFromFloat(0.5)
	hundred              = decimal.NewFromInt(100)
	minTeamSize          = decimal.NewFromInt(2)
	minDescriptionLength = 100
)

// DefaultRules 内置规则集，restricted 为受限司法辖区代码
func DefaultRules(restricted []string) []ValidationRule {
	blocked := make(map[string]struct{}, len(restricted))
	for _, j := range restricted {
		blocked[strings.ToUpper(strings.TrimSpace(j))] = struct{}{}
	}

	return []ValidationRule{
		{
			ID:             "fin.funding_goal",
			Name:           "Funding goal range",
			Category:       CategoryFinancial,
			Severity:       SeverityError,
			Recommendation: "Set a funding goal between 1,000 and 100,000,000",
			Check: func(o *Opportunity) (bool, error) {
				goal, ok, err := o.Decimal("funding_goal")
				if !ok || err != nil {
					return false, nil
				}
				return goal.GreaterThanOrEqual(minFundingGoal) && goal.LessThanOrEqual(maxFundingGoal), nil
			},
			Message: func(o *Opportunity) string {
				if !o.Has("funding_goal") {
					return "Funding goal is required"
				}
				return fmt.Sprintf("Funding goal %s must be between 1,000 and 100,000,000", o.String("funding_goal"))
			},
		},
		{
			ID:             "fin.equity_range",
			Name:           "Equity percentage range",
			Category:       CategoryFinancial,
			Severity:       SeverityError,
			Recommendation: "Offer an equity percentage greater than 0 and at most 100",
			Check: func(o *Opportunity) (bool, error) {
				equity, ok, err := o.Decimal("equity_offered")
				if !ok {
					return true, nil
				}
				if err != nil {
					return false, nil
				}
				return equity.IsPositive() && equity.LessThanOrEqual(hundred), nil
			},
			Message: func(o *Opportunity) string {
				return fmt.Sprintf("Invalid equity percentage %s: must be greater than 0 and at most 100", o.String("equity_offered"))
			},
		},
		{
			ID:             "fin.min_investment",
			Name:           "Minimum investment within goal",
			Category:       CategoryFinancial,
			Severity:       SeverityWarning,
			Recommendation: "Lower the minimum investment below the funding goal",
			Check: func(o *Opportunity) (bool, error) {
				minInv, ok, err := o.Decimal("minimum_investment")
				if !ok {
					return true, nil
				}
				if err != nil {
					return false, nil
				}
				goal, ok, err := o.Decimal("funding_goal")
				if !ok || err != nil {
					return true, nil
				}
				return minInv.LessThanOrEqual(goal), nil
			},
			Message: staticMessage("Minimum investment exceeds the funding goal"),
		},
		{
			ID:             "fin.valuation",
			Name:           "Valuation consistency",
			Category:       CategoryFinancial,
			Severity:       SeverityWarning,
			Recommendation: "Align the stated valuation with the funding goal and equity offered",
			Check: func(o *Opportunity) (bool, error) {
				valuation, vok, verr := o.Decimal("valuation")
				goal, gok, gerr := o.Decimal("funding_goal")
				equity, eok, eerr := o.Decimal("equity_offered")
				if !vok || !gok || !eok || verr != nil || gerr != nil || eerr != nil {
					return true, nil
				}
				// 股权比例非法时由 fin.equity_range 报告
				if !equity.IsPositive() || equity.GreaterThan(hundred) || !valuation.IsPositive() {
					return true, nil
				}
				implied := goal.Div(equity.Div(hundred))
				return implied.Sub(valuation).Abs().LessThanOrEqual(valuation.Mul(valuationTolerance)), nil
			},
			Message: func(o *Opportunity) string {
				return fmt.Sprintf("Stated valuation %s is inconsistent with the funding goal and equity offered", o.String("valuation"))
			},
		},
		{
			ID:             "legal.registration",
			Name:           "Company registration",
			Category:       CategoryLegal,
			Severity:       SeverityError,
			Recommendation: "Provide the company registration number",
			Check: func(o *Opportunity) (bool, error) {
				return o.String("registration_number") != "", nil
			},
			Message: staticMessage("Company registration number is required"),
		},
		{
			ID:             "legal.terms",
			Name:           "Terms accepted",
			Category:       CategoryLegal,
			Severity:       SeverityCritical,
			Recommendation: "Accept the platform terms and conditions",
			Check: func(o *Opportunity) (bool, error) {
				return o.Bool("terms_accepted"), nil
			},
			Message: staticMessage("Terms and conditions must be accepted"),
		},
		{
			ID:             "ops.team_size",
			Name:           "Team size",
			Category:       CategoryOperational,
			Severity:       SeverityInfo,
			Recommendation: "Consider adding co-founders or key hires",
			Check: func(o *Opportunity) (bool, error) {
				size, ok, err := o.Decimal("team_size")
				if !ok {
					return true, nil
				}
				if err != nil {
					return false, nil
				}
				return size.GreaterThanOrEqual(minTeamSize), nil
			},
			Message: staticMessage("Single-person teams carry higher execution risk"),
		},
		{
			ID:             "ops.business_plan",
			Name:           "Business plan",
			Category:       CategoryOperational,
			Severity:       SeverityWarning,
			Recommendation: "Upload a business plan",
			Check: func(o *Opportunity) (bool, error) {
				return o.String("business_plan_url") != "", nil
			},
			Message: staticMessage("Business plan is missing"),
		},
		{
			ID:             "tech.description",
			Name:           "Description length",
			Category:       CategoryTechnical,
			Severity:       SeverityInfo,
			Recommendation: "Expand the description to at least 100 characters",
			Check: func(o *Opportunity) (bool, error) {
				if !o.Has("description") {
					return true, nil
				}
				return utf8.RuneCountInString(o.String("description")) >= minDescriptionLength, nil
			},
			Message: staticMessage("Description is shorter than 100 characters"),
		},
		{
			ID:             "compliance.kyc",
			Name:           "KYC verified",
			Category:       CategoryCompliance,
			Severity:       SeverityCritical,
			Recommendation: "Complete identity verification for the issuer",
			Check: func(o *Opportunity) (bool, error) {
				return strings.EqualFold(o.String("kyc_status"), "verified"), nil
			},
			Message: staticMessage("KYC verification has not been completed"),
		},
		{
			ID:             "compliance.aml",
			Name:           "AML screening",
			Category:       CategoryCompliance,
			Severity:       SeverityCritical,
			Recommendation: "Resolve the anti-money-laundering screening hit before listing",
			Check: func(o *Opportunity) (bool, error) {
				return !strings.EqualFold(o.String("aml_status"), "flagged"), nil
			},
			Message: staticMessage("AML screening flagged this opportunity"),
		},
		{
			ID:             "compliance.jurisdiction",
			Name:           "Jurisdiction allowed",
			Category:       CategoryCompliance,
			Severity:       SeverityError,
			Recommendation: "Issuers from restricted jurisdictions cannot list on the platform",
			Check: func(o *Opportunity) (bool, error) {
				_, restricted := blocked[strings.ToUpper(o.String("jurisdiction"))]
				return !restricted, nil
			},
			Message: func(o *Opportunity) string {
				return fmt.Sprintf("Jurisdiction %s is restricted for regulatory reasons", strings.ToUpper(o.String("jurisdiction")))
			},
		},
		{
			ID:             "compliance.accredited",
			Name:           "Accredited investors for large raises",
			Category:       CategoryCompliance,
			Severity:       SeverityWarning,
			Recommendation: "Restrict raises above 5,000,000 to accredited investors",
			Check: func(o *Opportunity) (bool, error) {
				goal, ok, err := o.Decimal("funding_goal")
				if !ok || err != nil || goal.LessThanOrEqual(accreditedRaiseLimit) {
					return true, nil
				}
				return o.Bool("accredited_only"), nil
			},
			Message: staticMessage("Raises above 5,000,000 should be limited to accredited investors"),
		},
	}
}
