package domain

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePack = `
rules:
  - id: pack.team_min
    name: Minimum team
    category: operational
    severity: warning
    field: team_size
    operator: gte
    value: 3
    message: "Team size {value} is below 3"
    recommendation: Grow the founding team
  - id: pack.sector
    name: Allowed sector
    category: compliance
    severity: error
    field: sector
    operator: in
    value: [fintech, healthtech]
    message: "Sector {value} is not approved under platform compliance policy"
  - id: pack.video
    name: Pitch video
    category: technical
    severity: info
    field: pitch_video_url
    operator: present
  - id: pack.stage
    name: Not pre-seed
    category: financial
    severity: warning
    field: stage
    operator: neq
    value: pre-seed
`

func TestLoadRulePack(t *testing.T) {
	rules, err := LoadRulePack(strings.NewReader(samplePack))
	require.NoError(t, err)
	require.Len(t, rules, 4)
	assert.Equal(t, "pack.team_min", rules[0].ID)
	assert.Equal(t, CategoryCompliance, rules[1].Category)

	engine := newTestEngine(rules...)
	opp := &Opportunity{Fields: map[string]any{
		"team_size": 2,
		"sector":    "gaming",
		"stage":     "Pre-Seed",
	}}

	result := engine.ValidateOpportunity(context.Background(), opp)

	assert.Equal(t, []string{"Sector gaming is not approved under platform compliance policy"}, result.Errors)
	assert.Equal(t, []string{"Team size 2 is below 3", "Not pre-seed check failed for field stage"}, result.Warnings)
	assert.Equal(t, []string{"Pitch video check failed for field pitch_video_url"}, result.Info)
	assert.Equal(t, ComplianceNonCompliant, result.ComplianceStatus)
	assert.Contains(t, result.Recommendations, "Grow the founding team")
}

func TestLoadRulePackPassingOpportunity(t *testing.T) {
	rules, err := LoadRulePack(strings.NewReader(samplePack))
	require.NoError(t, err)

	opp := &Opportunity{Fields: map[string]any{
		"team_size":       "5",
		"sector":          "FinTech",
		"pitch_video_url": "https://example.com/v",
		"stage":           "series-a",
	}}
	result := newTestEngine(rules...).ValidateOpportunity(context.Background(), opp)
	assert.Equal(t, 0, result.RiskScore)
}

func TestLoadRulePackRejectsInvalidRules(t *testing.T) {
	cases := map[string]string{
		"unknown operator": `
rules:
  - {id: x, name: x, category: legal, severity: error, field: f, operator: like}
`,
		"non numeric threshold": `
rules:
  - {id: x, name: x, category: legal, severity: error, field: f, operator: gt, value: lots}
`,
		"in without list": `
rules:
  - {id: x, name: x, category: legal, severity: error, field: f, operator: in, value: a}
`,
		"unknown severity": `
rules:
  - {id: x, name: x, category: legal, severity: fatal, field: f, operator: present}
`,
		"missing field": `
rules:
  - {id: x, name: x, category: legal, severity: error, operator: present}
`,
		"unknown key": `
rules:
  - {id: x, name: x, category: legal, severity: error, field: f, operator: present, weight: 3}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadRulePack(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRulePackEmpty(t *testing.T) {
	rules, err := LoadRulePack(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rules)
}
