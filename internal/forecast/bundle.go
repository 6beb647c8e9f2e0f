package forecast

import (
	"time"

	"smartpesa/internal/model"
)

// Date is a calendar day rendered as YYYY-MM-DD.
type Date time.Time

// MarshalJSON renders the day without a time component.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).Format(time.DateOnly) + `"`), nil
}

// UnmarshalJSON parses a YYYY-MM-DD day.
func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return &time.ParseError{Layout: time.DateOnly, Value: string(b)}
	}
	t, err := time.Parse(time.DateOnly, string(b[1:len(b)-1]))
	if err != nil {
		return err
	}
	*d = Date(t)
	return nil
}

// Time returns the underlying time.
func (d Date) Time() time.Time { return time.Time(d) }

// DateRange spans the first and last day of a series.
type DateRange struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// DataSummary describes the history a forecast was fitted on.
type DataSummary struct {
	TotalDays    int       `json:"total_days"`
	DateRange    DateRange `json:"date_range"`
	TotalIncome  float64   `json:"total_income"`
	TotalExpense float64   `json:"total_expense"`
	AvgDailyNet  float64   `json:"avg_daily_net"`
}

// BaselinePoint is a baseline forecast day.
type BaselinePoint struct {
	Date  Date    `json:"ds"`
	Yhat  float64 `json:"yhat"`
	Lower float64 `json:"yhat_lower"`
	Upper float64 `json:"yhat_upper"`
}

// BaselineResult is the trend-seasonality section of a bundle.
type BaselineResult struct {
	Metrics  model.Metrics   `json:"metrics"`
	Forecast []BaselinePoint `json:"forecast"`
}

// HybridMetrics scores the combined model in sample and the residual model on its holdout.
type HybridMetrics struct {
	MAE       float64 `json:"hybrid_mae"`
	RMSE      float64 `json:"hybrid_rmse"`
	MAPE      float64 `json:"hybrid_mape"`
	RFMAE     float64 `json:"rf_mae"`
	RFRMSE    float64 `json:"rf_rmse"`
	TrainRows int     `json:"train_rows"`
	TestRows  int     `json:"test_rows"`
}

// HybridResult is the combined-model section of a bundle.
type HybridResult struct {
	Metrics           HybridMetrics      `json:"metrics"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	Forecast          []HybridPoint      `json:"forecast"`
}

// Bundle is the full forecast response for a business.
type Bundle struct {
	BusinessID   int64          `json:"business_id"`
	ForecastDate time.Time      `json:"forecast_date"`
	DaysForward  int            `json:"days_forward"`
	DataSummary  DataSummary    `json:"data_summary"`
	Baseline     BaselineResult `json:"baseline_model"`
	Hybrid       HybridResult   `json:"hybrid_model"`
	Risk         RiskAnalysis   `json:"risk_analysis"`
}

// RiskSummary condenses the forecast behind a risk alert.
type RiskSummary struct {
	ForecastAvg  float64 `json:"forecast_avg"`
	NegativeDays int     `json:"negative_days"`
	Volatility   float64 `json:"volatility"`
}

// RiskAlert is the 30-day risk view of a business.
type RiskAlert struct {
	BusinessID int64       `json:"business_id"`
	Timestamp  time.Time   `json:"timestamp"`
	RiskLevel  RiskLevel   `json:"risk_level"`
	RiskScore  int         `json:"risk_score"`
	Alerts     []Alert     `json:"alerts"`
	Summary    RiskSummary `json:"summary"`
}

// Readiness reports whether a business has enough history to forecast.
type Readiness struct {
	BusinessID   int64      `json:"business_id"`
	Ready        bool       `json:"ready"`
	Message      string     `json:"message"`
	DaysOfData   int        `json:"days_of_data"`
	RequiredDays int        `json:"required_days"`
	DateRange    *DateRange `json:"date_range,omitempty"`
}
