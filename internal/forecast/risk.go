package forecast

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// RiskLevel grades short-term cash risk from the forecast risk score. It is a different
// scale from the lender risk level derived from credit scores.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskLevelFor maps a 0-100 risk score to a level: >=70 HIGH, >=40 MEDIUM, else LOW.
func RiskLevelFor(score int) RiskLevel {
	switch {
	case score >= 70:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Alert is a single risk finding.
type Alert struct {
	Level   RiskLevel `json:"level"`
	Message string    `json:"message"`
}

// RiskAnalysis summarises the risk carried by a forecast.
type RiskAnalysis struct {
	RiskScore            int     `json:"risk_score"`
	NegativeDays         int     `json:"negative_days_forecast"`
	ForecastVolatility   float64 `json:"forecast_volatility"`
	HistoricalVolatility float64 `json:"historical_volatility"`
	Alerts               []Alert `json:"alerts"`
}

const (
	negativeShareThreshold = 0.3
	declineThreshold       = 0.7
	volatilityThreshold    = 1.5
)

// AnalyzeRisk scores predicted daily net against the historical net series. Alerts
// accumulate independently.
func AnalyzeRisk(predictions, historical []float64) RiskAnalysis {
	analysis := RiskAnalysis{Alerts: []Alert{}}
	if len(predictions) == 0 {
		return analysis
	}

	negative := 0
	for _, p := range predictions {
		if p < 0 {
			negative++
		}
	}
	volatility := stat.PopStdDev(predictions, nil)
	avgPrediction := stat.Mean(predictions, nil)

	var historicalAvg, historicalStd float64
	if len(historical) > 0 {
		historicalAvg = stat.Mean(historical, nil)
		historicalStd = stat.PopStdDev(historical, nil)
	}

	total := len(predictions)
	if float64(negative) > float64(total)*negativeShareThreshold {
		analysis.Alerts = append(analysis.Alerts, Alert{
			Level:   RiskHigh,
			Message: fmt.Sprintf("High risk: %d out of %d forecast days show negative cash flow", negative, total),
		})
	} else if negative > 0 {
		analysis.Alerts = append(analysis.Alerts, Alert{
			Level:   RiskMedium,
			Message: fmt.Sprintf("Warning: %d forecast days show negative cash flow", negative),
		})
	}
	if avgPrediction < historicalAvg*declineThreshold {
		analysis.Alerts = append(analysis.Alerts, Alert{
			Level:   RiskHigh,
			Message: fmt.Sprintf("Forecast shows significant decline: %.2f vs historical %.2f", avgPrediction, historicalAvg),
		})
	}
	if volatility > historicalStd*volatilityThreshold {
		analysis.Alerts = append(analysis.Alerts, Alert{
			Level:   RiskMedium,
			Message: fmt.Sprintf("High volatility detected: %.2f vs historical %.2f", volatility, historicalStd),
		})
	}

	raw := (volatility/(historicalStd+1))*50 + float64(negative)/float64(total)*50
	score := int(raw)
	score = max(0, min(100, score))

	analysis.RiskScore = score
	analysis.NegativeDays = negative
	analysis.ForecastVolatility = volatility
	analysis.HistoricalVolatility = historicalStd
	return analysis
}
