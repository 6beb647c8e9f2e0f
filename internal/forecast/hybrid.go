package forecast

import (
	"fmt"

	"smartpesa/internal/model"
)

// HybridPoint is a baseline prediction shifted by the residual correction.
type HybridPoint struct {
	Date       Date    `json:"date"`
	Baseline   float64 `json:"prophet_prediction"`
	Correction float64 `json:"rf_correction"`
	Prediction float64 `json:"hybrid_prediction"`
	Lower      float64 `json:"lower_bound"`
	Upper      float64 `json:"upper_bound"`
}

// Combine adds each correction to its baseline point and both interval edges, so the
// interval width is inherited from the baseline.
func Combine(baseline []model.Point, corrections []float64) ([]HybridPoint, error) {
	if len(baseline) != len(corrections) {
		return nil, fmt.Errorf("combine forecasts: %d baseline points for %d corrections", len(baseline), len(corrections))
	}
	out := make([]HybridPoint, len(baseline))
	for i, p := range baseline {
		c := corrections[i]
		out[i] = HybridPoint{
			Date:       Date(p.Date),
			Baseline:   p.Yhat,
			Correction: c,
			Prediction: p.Yhat + c,
			Lower:      p.Lower + c,
			Upper:      p.Upper + c,
		}
	}
	return out, nil
}

// Predictions extracts the combined predictions.
func Predictions(points []HybridPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Prediction
	}
	return out
}
