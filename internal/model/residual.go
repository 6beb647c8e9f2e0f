package model

import (
	"context"
	"fmt"
	"math"

	"smartpesa/internal/pipeline"
)

// featureExtractors maps residual feature names to row accessors.
var featureExtractors = map[string]func(r *pipeline.FeatureRow) float64{
	"day_of_week":        func(r *pipeline.FeatureRow) float64 { return float64(r.DayOfWeek) },
	"month":              func(r *pipeline.FeatureRow) float64 { return float64(r.Month) },
	"quarter":            func(r *pipeline.FeatureRow) float64 { return float64(r.Quarter) },
	"week_of_year":       func(r *pipeline.FeatureRow) float64 { return float64(r.WeekOfYear) },
	"net_lag_1":          func(r *pipeline.FeatureRow) float64 { return r.NetLags[0] },
	"net_lag_2":          func(r *pipeline.FeatureRow) float64 { return r.NetLags[1] },
	"net_lag_3":          func(r *pipeline.FeatureRow) float64 { return r.NetLags[2] },
	"net_lag_7":          func(r *pipeline.FeatureRow) float64 { return r.NetLags[3] },
	"net_lag_4":          func(r *pipeline.FeatureRow) float64 { return r.ExtendedNetLags[0] },
	"net_lag_5":          func(r *pipeline.FeatureRow) float64 { return r.ExtendedNetLags[1] },
	"net_lag_6":          func(r *pipeline.FeatureRow) float64 { return r.ExtendedNetLags[2] },
	"net_lag_21":         func(r *pipeline.FeatureRow) float64 { return r.ExtendedNetLags[3] },
	"net_lag_28":         func(r *pipeline.FeatureRow) float64 { return r.ExtendedNetLags[4] },
	"net_lag_60":         func(r *pipeline.FeatureRow) float64 { return r.ExtendedNetLags[5] },
	"net_lag_90":         func(r *pipeline.FeatureRow) float64 { return r.ExtendedNetLags[6] },
	"net_rolling_mean_7": func(r *pipeline.FeatureRow) float64 { return r.NetRolling[0].Mean },
	"net_rolling_std_7":  func(r *pipeline.FeatureRow) float64 { return r.NetRolling[0].Std },
	"volatility_7d":      func(r *pipeline.FeatureRow) float64 { return r.Volatility7d },
	"is_weekend":         func(r *pipeline.FeatureRow) float64 { return boolFloat(r.IsWeekend) },
	"is_month_start":     func(r *pipeline.FeatureRow) float64 { return boolFloat(r.IsMonthStart) },
	"is_month_end":       func(r *pipeline.FeatureRow) float64 { return boolFloat(r.IsMonthEnd) },
}

var (
	baseResidualFeatures = []string{
		"day_of_week", "month", "quarter", "week_of_year",
		"net_lag_1", "net_lag_2", "net_lag_3", "net_lag_7",
		"net_rolling_mean_7", "net_rolling_std_7",
		"volatility_7d", "is_weekend", "is_month_start", "is_month_end",
	}
	extendedResidualFeatures = []string{
		"net_lag_4", "net_lag_5", "net_lag_6",
		"net_lag_21", "net_lag_28", "net_lag_60", "net_lag_90",
	}
)

// ResidualFeatures lists the feature names the residual model consumes. The extended
// set adds every extended lag, which is why it needs the longer lookback.
func ResidualFeatures(extended bool) []string {
	out := append([]string(nil), baseResidualFeatures...)
	if extended {
		out = append(out, extendedResidualFeatures...)
	}
	return out
}

// FeatureMatrix extracts the named features from each row.
func FeatureMatrix(rows []pipeline.FeatureRow, names []string) ([][]float64, error) {
	extract := make([]func(*pipeline.FeatureRow) float64, len(names))
	for j, name := range names {
		fn, ok := featureExtractors[name]
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		extract[j] = fn
	}
	out := make([][]float64, len(rows))
	for i := range rows {
		vec := make([]float64, len(names))
		for j, fn := range extract {
			vec[j] = fn(&rows[i])
		}
		out[i] = vec
	}
	return out, nil
}

// ResidualMetrics describe the residual model on its held-out split.
type ResidualMetrics struct {
	MAE       float64 `json:"rf_mae"`
	RMSE      float64 `json:"rf_rmse"`
	TrainRows int     `json:"train_rows"`
	TestRows  int     `json:"test_rows"`
}

// ResidualModel fits a forest on baseline residuals with an order-preserving 80/20 split.
type ResidualModel struct {
	forestCfg ForestConfig
	features  []string

	forest   *Forest
	constant *float64
	metrics  ResidualMetrics
	fitted   bool
}

// NewResidualModel creates an unfitted residual model over the named features.
func NewResidualModel(cfg ForestConfig, features []string) *ResidualModel {
	return &ResidualModel{forestCfg: cfg, features: features}
}

// Fit trains on the leading 80% of rows and scores the trailing 20%. With no rows the
// model predicts a zero correction.
func (m *ResidualModel) Fit(ctx context.Context, rows []pipeline.FeatureRow, residuals []float64) error {
	if len(rows) != len(residuals) {
		return fmt.Errorf("fit residual model: %d rows for %d residuals", len(rows), len(residuals))
	}
	m.forest, m.constant, m.metrics, m.fitted = nil, nil, ResidualMetrics{}, false

	X, err := FeatureMatrix(rows, m.features)
	if err != nil {
		return fmt.Errorf("fit residual model: %w", err)
	}

	n := len(rows)
	if n == 0 {
		zero := 0.0
		m.constant = &zero
		m.fitted = true
		return nil
	}

	test := int(math.Ceil(0.2 * float64(n)))
	train := n - test
	if train == 0 {
		train, test = n, 0
	}

	forest := NewForest(m.forestCfg)
	if err := forest.Fit(ctx, X[:train], residuals[:train]); err != nil {
		return fmt.Errorf("fit residual model: %w", err)
	}
	m.forest = forest
	m.metrics.TrainRows, m.metrics.TestRows = train, test

	if test > 0 {
		pred, err := forest.Predict(X[train:])
		if err != nil {
			return fmt.Errorf("score residual model: %w", err)
		}
		score := Score(residuals[train:], pred)
		m.metrics.MAE, m.metrics.RMSE = score.MAE, score.RMSE
	}
	m.fitted = true
	return nil
}

// Predict returns the residual correction for each row.
func (m *ResidualModel) Predict(rows []pipeline.FeatureRow) ([]float64, error) {
	if !m.fitted {
		return nil, ErrModelNotFit
	}
	if m.constant != nil {
		out := make([]float64, len(rows))
		for i := range out {
			out[i] = *m.constant
		}
		return out, nil
	}
	X, err := FeatureMatrix(rows, m.features)
	if err != nil {
		return nil, fmt.Errorf("predict residual model: %w", err)
	}
	return m.forest.Predict(X)
}

// Metrics returns the held-out scores of the last fit.
func (m *ResidualModel) Metrics() ResidualMetrics {
	return m.metrics
}

// Importance maps feature names to importances summing to 1.
func (m *ResidualModel) Importance() (map[string]float64, error) {
	if !m.fitted {
		return nil, ErrModelNotFit
	}
	values := normalize(make([]float64, len(m.features)))
	if m.forest != nil {
		imp, err := m.forest.Importances()
		if err != nil {
			return nil, err
		}
		values = imp
	}
	out := make(map[string]float64, len(m.features))
	for j, name := range m.features {
		out[name] = values[j]
	}
	return out, nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ CorrectionForecaster = (*ResidualModel)(nil)
