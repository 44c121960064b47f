package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New("escrow")

	m.RecordLedgerOp("release", nil)
	m.RecordLedgerOp("release", errors.New("insufficient funds"))
	m.RecordLedgerOp("release", nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LedgerOpsTotal.WithLabelValues("release", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerOpsTotal.WithLabelValues("release", "error")))

	m.RecordOutboxDispatch("sent", 3)
	m.RecordOutboxDispatch("failed", 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutboxDispatchedTotal.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDispatchedTotal.WithLabelValues("failed")))

	m.RecordAutoRelease("released")
	m.RecordRuleFailure("R-7")
	m.RecordValidation("compliant", 20)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AutoReleasesTotal.WithLabelValues("released")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleFailuresTotal.WithLabelValues("R-7")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("compliant")))

	m.RecordHTTPRequest("POST", "/escrow/:id/release", 422, 15*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/escrow/:id/release", "422")))
}

func TestInstancesUseSeparateRegistries(t *testing.T) {
	a, b := New("escrow"), New("escrow")
	a.RecordAutoRelease("skipped")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.AutoReleasesTotal.WithLabelValues("skipped")))
}

func TestHandlerExposesNamespacedMetrics(t *testing.T) {
	m := New("validation")
	m.RecordValidation("non_compliant", 85)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `investportal_validation_validations_total{compliance_status="non_compliant"} 1`)
	assert.Contains(t, string(body), "investportal_validation_risk_score_bucket")
}
