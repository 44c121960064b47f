package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/investportal/internal/validation/application"
	"github.com/wyfcoding/investportal/internal/validation/domain"
	"github.com/wyfcoding/investportal/internal/validation/infrastructure/persistence/mysql"
	"github.com/wyfcoding/investportal/pkg/db"
	"github.com/wyfcoding/investportal/pkg/logger"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(db.Config{Driver: "sqlite", DSN: "file::memory:"}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })
	require.NoError(t, mysql.AutoMigrate(gdb.DB))

	engine := domain.NewRuleEngine(
		domain.WithLogger(logger.Discard()),
		domain.WithRules(domain.DefaultRules(nil)...),
	)
	svc := application.NewValidationService(mysql.NewOpportunityRepository(gdb.DB), engine, nil, nil, logger.Discard())

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitValidateFlow(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/v1/opportunities", gin.H{
		"opportunity_id": "OPP-H1",
		"type":           "equity",
		"fields": gin.H{
			"funding_goal":        50000,
			"equity_offered":      150,
			"registration_number": "R-1",
			"terms_accepted":      true,
			"business_plan_url":   "https://example.com",
			"kyc_status":          "verified",
		},
		"milestones": []gin.H{{"milestone_id": "m1", "title": "MVP", "budget": "1000"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/opportunities/OPP-H1/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result domain.ValidationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 10, result.RiskScore)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "equity percentage")
	assert.Equal(t, domain.ComplianceRequiresReview, result.ComplianceStatus)

	w = do(r, http.MethodPost, "/api/v1/opportunities/OPP-H1/milestones/m1/complete", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/v1/opportunities/OPP-H1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var opp domain.Opportunity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opp))
	assert.Equal(t, domain.MilestoneStatusCompleted, opp.Milestones[0].Status)
	assert.Equal(t, domain.RiskLevelLow, opp.RiskLevel)
}

func TestErrorMapping(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/opportunities/none", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/opportunities", gin.H{"fields": gin.H{}}).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/opportunities", gin.H{"type": "equity", "status": "bogus"}).Code)

	w := do(r, http.MethodPost, "/api/v1/opportunities", gin.H{"opportunity_id": "OPP-X", "type": "equity", "status": "closed"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/v1/opportunities", gin.H{"opportunity_id": "OPP-X", "type": "equity"}).Code)
}

func TestRulesEndpoints(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/v1/rules", gin.H{
		"id": "pack.team", "name": "Team", "category": "operational", "severity": "warning",
		"field": "team_size", "operator": "gte", "value": 3,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/v1/rules", gin.H{
		"id": "pack.team", "name": "Team", "category": "operational", "severity": "warning",
		"field": "team_size", "operator": "gte", "value": 3,
	}).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/rules", gin.H{
		"id": "pack.bad", "category": "operational", "severity": "warning", "field": "x", "operator": "like",
	}).Code)

	w = do(r, http.MethodGet, "/api/v1/rules?category=operational", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Total int `json:"total"`
		Rules []struct {
			ID string `json:"id"`
		} `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, "pack.team", body.Rules[2].ID)
}
