package forecast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartpesa/internal/model"
	"smartpesa/internal/pipeline"
	"smartpesa/internal/storage"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func seedDays(t *testing.T, store *storage.MemoryStore, businessID int64, days int) {
	t.Helper()
	txs := make([]storage.Transaction, 0, 2*days)
	for i := days; i >= 1; i-- {
		at := testNow.AddDate(0, 0, -i)
		txs = append(txs,
			storage.Transaction{BusinessID: businessID, Amount: decimal.NewFromInt(1000), Kind: storage.KindIncome, Category: "sales", Description: "daily sales", CreatedAt: at},
			storage.Transaction{BusinessID: businessID, Amount: decimal.NewFromInt(200), Kind: storage.KindExpense, Category: "supplies", Description: "restock", CreatedAt: at.Add(time.Hour)},
		)
	}
	require.NoError(t, store.InsertTransactions(context.Background(), txs))
}

func testService(store storage.RecordReader, recorder Recorder) *Service {
	cfg := DefaultConfig()
	cfg.Trend.UncertaintySamples = 100
	cfg.Forest.Trees = 10
	return NewService(cfg, store, recorder, func() time.Time { return testNow }, zerolog.Nop())
}

type countingRecorder struct {
	fits     map[string]int
	outcomes map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{fits: map[string]int{}, outcomes: map[string]int{}}
}

func (c *countingRecorder) ObserveFit(name string, _ time.Duration) { c.fits[name]++ }
func (c *countingRecorder) ForecastCompleted(outcome string)        { c.outcomes[outcome]++ }

func TestGenerateForecastThirtyFiveDays(t *testing.T) {
	store := storage.NewMemoryStore()
	seedDays(t, store, 1, 35)
	recorder := newCountingRecorder()
	svc := testService(store, recorder)

	bundle, err := svc.GenerateForecast(context.Background(), 1, 7)
	require.NoError(t, err)

	assert.Equal(t, 35, bundle.DataSummary.TotalDays)
	assert.InDelta(t, 35000, bundle.DataSummary.TotalIncome, 1e-9)
	assert.InDelta(t, 7000, bundle.DataSummary.TotalExpense, 1e-9)
	assert.InDelta(t, 800, bundle.DataSummary.AvgDailyNet, 1e-9)
	assert.Equal(t, pipeline.Day(testNow.AddDate(0, 0, -35)), bundle.DataSummary.DateRange.Start.Time())

	require.Len(t, bundle.Baseline.Forecast, 7)
	require.Len(t, bundle.Hybrid.Forecast, 7)
	assert.Equal(t, pipeline.Day(testNow), bundle.Hybrid.Forecast[0].Date.Time())
	for _, p := range bundle.Hybrid.Forecast {
		assert.InDelta(t, p.Baseline+p.Correction, p.Prediction, 1e-9)
		assert.InDelta(t, p.Upper-p.Lower, (p.Upper-p.Correction)-(p.Lower-p.Correction), 1e-9)
		assert.InDelta(t, 800, p.Prediction, 50)
	}

	var sum float64
	for _, v := range bundle.Hybrid.FeatureImportance {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Len(t, bundle.Hybrid.FeatureImportance, len(model.ResidualFeatures(false)))
	assert.Equal(t, 4, bundle.Hybrid.Metrics.TrainRows)
	assert.Equal(t, 1, bundle.Hybrid.Metrics.TestRows)

	assert.Equal(t, 1, recorder.outcomes["ok"])
	assert.Equal(t, 1, recorder.fits["trend"])
	assert.Equal(t, 1, recorder.fits["residual"])

	raw, err := json.Marshal(bundle)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	summary := decoded["data_summary"].(map[string]any)
	assert.EqualValues(t, 35, summary["total_days"])
	assert.Contains(t, decoded, "risk_analysis")
	hybrid := decoded["hybrid_model"].(map[string]any)
	first := hybrid["forecast"].([]any)[0].(map[string]any)
	assert.Equal(t, "2025-06-10", first["date"])
	assert.Contains(t, first, "rf_correction")
}

func TestGenerateForecastInsufficientData(t *testing.T) {
	store := storage.NewMemoryStore()
	seedDays(t, store, 1, 10)
	recorder := newCountingRecorder()
	svc := testService(store, recorder)

	_, forecastErr := svc.GenerateForecast(context.Background(), 1, 7)
	require.ErrorIs(t, forecastErr, ErrInsufficientData)

	_, alertErr := svc.GetRiskAlert(context.Background(), 1)
	require.ErrorIs(t, alertErr, ErrInsufficientData)
	assert.Equal(t, forecastErr.Error(), alertErr.Error())
	assert.Equal(t, 2, recorder.outcomes["insufficient_data"])
}

func TestGenerateForecastExactlyMinimumDays(t *testing.T) {
	store := storage.NewMemoryStore()
	seedDays(t, store, 1, 30)

	bundle, err := testService(store, nil).GenerateForecast(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, bundle.Hybrid.Metrics.TrainRows)
	for _, p := range bundle.Hybrid.Forecast {
		assert.Zero(t, p.Correction)
	}
}

func TestGenerateForecastRejectsHorizon(t *testing.T) {
	_, err := testService(storage.NewMemoryStore(), nil).GenerateForecast(context.Background(), 1, 0)
	require.ErrorIs(t, err, ErrInvalidHorizon)
}

func TestGetRiskAlert(t *testing.T) {
	store := storage.NewMemoryStore()
	seedDays(t, store, 1, 40)

	alert, err := testService(store, nil).GetRiskAlert(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), alert.BusinessID)
	assert.Equal(t, RiskLevelFor(alert.RiskScore), alert.RiskLevel)
	assert.InDelta(t, 800, alert.Summary.ForecastAvg, 50)
}

func TestReadiness(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := testService(store, nil)

	r, err := svc.Readiness(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, r.Ready)
	assert.Equal(t, "No transaction data found", r.Message)
	assert.Nil(t, r.DateRange)

	seedDays(t, store, 1, 12)
	r, err = svc.Readiness(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, r.Ready)
	assert.Equal(t, 12, r.DaysOfData)
	assert.Equal(t, "Need 18 more days of data", r.Message)

	seedDays(t, store, 2, 31)
	r, err = svc.Readiness(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, r.Ready)
	assert.Equal(t, 30, r.RequiredDays)
}

func TestBuildFutureFrame(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	daily := make([]pipeline.DailyTotal, 10)
	for i := range daily {
		net := decimal.NewFromInt(int64(i))
		daily[i] = pipeline.DailyTotal{Date: start.AddDate(0, 0, i), Income: net, Expense: decimal.Zero, Net: net}
	}

	rows := BuildFutureFrame(daily, 3)
	require.Len(t, rows, 3)
	assert.Equal(t, start.AddDate(0, 0, 10), rows[0].Date)
	for _, r := range rows {
		assert.Equal(t, 9.0, r.NetLags[0])
		assert.Equal(t, 3.0, r.NetLags[3])
		assert.Equal(t, 0.0, r.NetLags[5])
		assert.InDelta(t, 6.0, r.NetRolling[0].Mean, 1e-12)
		assert.InDelta(t, r.NetRolling[0].Std/(6+1), r.Volatility7d, 1e-12)
	}
	assert.Equal(t, 5, rows[0].DayOfWeek)
	assert.Nil(t, BuildFutureFrame(nil, 3))
}
