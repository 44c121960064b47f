package mysql

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/investportal/internal/validation/domain"
	"github.com/wyfcoding/investportal/pkg/db"
	"github.com/wyfcoding/investportal/pkg/logger"
)

func newTestRepo(t *testing.T) domain.OpportunityRepository {
	t.Helper()
	gdb, err := db.Open(db.Config{Driver: "sqlite", DSN: "file::memory:"}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })
	require.NoError(t, AutoMigrate(gdb.DB))
	return NewOpportunityRepository(gdb.DB)
}

func TestOpportunityRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	target := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	pct := 40
	budget := decimal.RequireFromString("12500.50")
	cost := decimal.RequireFromString("9000")
	opp := &domain.Opportunity{
		OpportunityID: "OPP-1",
		Type:          "equity",
		Status:        domain.OpportunityStatusSubmitted,
		Fields: map[string]any{
			"funding_goal":   250000,
			"equity_offered": "12.5",
			"terms_accepted": true,
			"jurisdiction":   "DE",
		},
		Milestones: []domain.Milestone{
			{MilestoneID: "m1", Title: "MVP", TargetDate: target, Status: domain.MilestoneStatusInProgress,
				CompletionPercentage: &pct, Budget: &budget, ActualCost: &cost},
			{MilestoneID: "m2", Title: "Launch", Status: domain.MilestoneStatusPending, Dependencies: []string{"m1"}},
		},
	}

	require.NoError(t, repo.Save(ctx, opp))
	assert.Equal(t, int64(1), opp.Version)

	got, err := repo.Get(ctx, "OPP-1")
	require.NoError(t, err)
	assert.Equal(t, "equity", got.Type)
	assert.Equal(t, domain.OpportunityStatusSubmitted, got.Status)
	assert.Equal(t, json.Number("250000"), got.Fields["funding_goal"])
	assert.Equal(t, true, got.Fields["terms_accepted"])

	require.Len(t, got.Milestones, 2)
	m1 := got.Milestones[0]
	assert.Equal(t, "m1", m1.MilestoneID)
	assert.True(t, target.Equal(m1.TargetDate))
	require.NotNil(t, m1.CompletionPercentage)
	assert.Equal(t, 40, *m1.CompletionPercentage)
	require.NotNil(t, m1.Budget)
	assert.True(t, budget.Equal(*m1.Budget))
	assert.True(t, cost.Equal(*m1.ActualCost))

	m2 := got.Milestones[1]
	assert.True(t, m2.TargetDate.IsZero())
	assert.Nil(t, m2.Budget)
	assert.Equal(t, []string{"m1"}, m2.Dependencies)
	assert.Nil(t, got.LastValidation)
}

func TestOpportunityUpdateReplacesMilestonesAndStoresValidation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	opp := &domain.Opportunity{
		OpportunityID: "OPP-2",
		Status:        domain.OpportunityStatusDraft,
		Fields:        map[string]any{},
		Milestones:    []domain.Milestone{{MilestoneID: "a", Title: "A"}, {MilestoneID: "b", Title: "B"}},
	}
	require.NoError(t, repo.Save(ctx, opp))

	opp.Milestones = []domain.Milestone{{MilestoneID: "c", Title: "C", Status: domain.MilestoneStatusCompleted}}
	opp.RiskLevel = domain.RiskLevelMedium
	opp.LastValidation = &domain.ValidationResult{
		RiskScore:        35,
		Warnings:         []string{"Business plan is missing"},
		ComplianceStatus: domain.ComplianceRequiresReview,
	}
	require.NoError(t, repo.Save(ctx, opp))
	assert.Equal(t, int64(2), opp.Version)

	got, err := repo.Get(ctx, "OPP-2")
	require.NoError(t, err)
	require.Len(t, got.Milestones, 1)
	assert.Equal(t, "c", got.Milestones[0].MilestoneID)
	assert.Equal(t, domain.RiskLevelMedium, got.RiskLevel)
	require.NotNil(t, got.LastValidation)
	assert.Equal(t, 35, got.LastValidation.RiskScore)
	assert.Equal(t, domain.ComplianceRequiresReview, got.LastValidation.ComplianceStatus)
}

func TestOpportunityVersionConflict(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	opp := &domain.Opportunity{OpportunityID: "OPP-3", Status: domain.OpportunityStatusDraft}
	require.NoError(t, repo.Save(ctx, opp))

	stale := *opp
	opp.Status = domain.OpportunityStatusSubmitted
	require.NoError(t, repo.Save(ctx, opp))

	stale.Status = domain.OpportunityStatusRejected
	assert.ErrorIs(t, repo.Save(ctx, &stale), domain.ErrVersionConflict)
}

func TestOpportunityNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOpportunityNotFound)
}
