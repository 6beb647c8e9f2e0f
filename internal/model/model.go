// Package model holds the two forecasting roles: a trend-seasonality baseline with an
// uncertainty interval and a tree-ensemble residual corrector.
package model

import (
	"context"
	"errors"
	"math"
	"time"

	"smartpesa/internal/pipeline"
)

// ErrModelNotFit is returned when a model is queried before Fit.
var ErrModelNotFit = errors.New("model not fit")

// Point is one baseline prediction with its interval.
type Point struct {
	Date  time.Time
	Yhat  float64
	Lower float64
	Upper float64
}

// BaselineForecaster produces a decomposition baseline with an interval per day.
type BaselineForecaster interface {
	Fit(ctx context.Context, dates []time.Time, values []float64) error
	Predict(dates []time.Time) ([]Point, error)
}

// CorrectionForecaster maps engineered feature rows to a residual correction.
type CorrectionForecaster interface {
	Fit(ctx context.Context, rows []pipeline.FeatureRow, residuals []float64) error
	Predict(rows []pipeline.FeatureRow) ([]float64, error)
}

// Metrics are point-forecast error measures.
type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	MAPE float64 `json:"mape"`
}

const mapeEpsilon = 1e-10

// Score compares predictions with actual values. MAPE is in percent and adds a small
// epsilon to the denominator so zero-valued days stay finite.
func Score(actual, predicted []float64) Metrics {
	n := min(len(actual), len(predicted))
	if n == 0 {
		return Metrics{}
	}
	var absSum, sqSum, pctSum float64
	for i := 0; i < n; i++ {
		e := actual[i] - predicted[i]
		absSum += math.Abs(e)
		sqSum += e * e
		pctSum += math.Abs(e / (actual[i] + mapeEpsilon))
	}
	fn := float64(n)
	return Metrics{
		MAE:  absSum / fn,
		RMSE: math.Sqrt(sqSum / fn),
		MAPE: pctSum / fn * 100,
	}
}

// FutureDates returns horizon consecutive days after last.
func FutureDates(last time.Time, horizon int) []time.Time {
	if horizon <= 0 {
		return nil
	}
	last = pipeline.Day(last)
	out := make([]time.Time, horizon)
	for i := range out {
		out[i] = last.AddDate(0, 0, i+1)
	}
	return out
}
