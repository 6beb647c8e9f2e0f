package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAndExpose(t *testing.T) {
	m := NewMetrics("test")
	m.ForecastCompleted("ok")
	m.ForecastCompleted("ok")
	m.ForecastCompleted("insufficient_data")
	m.ObserveFit("trend", 120*time.Millisecond)
	m.ScoreComputed(640)
	m.AlertDispatched("HIGH", "sent")
	m.RecordJob("risk_scan", "ok", time.Second)
	m.ObserveRequest("/forecast/{business_id}/7days", http.StatusOK, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ForecastsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScoresComputed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsDispatched.WithLabelValues("HIGH", "sent")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_forecast_requests_total{outcome="insufficient_data"} 1`)
	assert.Contains(t, string(body), "test_credit_score_bucket")
}

func TestMetricsInstancesAreIndependent(t *testing.T) {
	a := NewMetrics("")
	b := NewMetrics("")
	a.ScoreComputed(500)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ScoresComputed))
}
