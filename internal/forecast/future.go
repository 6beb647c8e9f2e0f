package forecast

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"smartpesa/internal/model"
	"smartpesa/internal/pipeline"
)

const trailingWindow = 7

// BuildFutureFrame creates feature rows for horizon days after the last historical day.
// Lags are frozen at the values counted back from the last day, and the rolling stats come
// from the trailing seven actual days, held constant over the horizon.
func BuildFutureFrame(daily []pipeline.DailyTotal, horizon int) []pipeline.FeatureRow {
	if len(daily) == 0 || horizon <= 0 {
		return nil
	}
	net := pipeline.NetValues(daily)
	n := len(net)

	var lags [6]float64
	for k, lag := range pipeline.NetLagDays {
		lags[k] = lastValue(net, lag)
	}
	var extended [7]float64
	for k, lag := range pipeline.ExtendedNetLagDays {
		extended[k] = lastValue(net, lag)
	}

	tail := net[max(0, n-trailingWindow):]
	mean, std := stat.MeanStdDev(tail, nil)
	if len(tail) < 2 {
		std = math.NaN()
	}
	rolling := pipeline.RollingStats{Mean: mean, Std: std, Min: floats.Min(tail), Max: floats.Max(tail)}
	volatility := pipeline.Volatility(rolling)

	dates := model.FutureDates(daily[n-1].Date, horizon)
	rows := make([]pipeline.FeatureRow, horizon)
	for i, d := range dates {
		row := pipeline.FeatureRow{
			Date:            d,
			Calendar:        pipeline.CalendarFor(d),
			NetLags:         lags,
			ExtendedNetLags: extended,
			Volatility7d:    volatility,
			Trend:           n + i,
		}
		row.NetRolling[0] = rolling
		rows[i] = row
	}
	return rows
}

// lastValue returns the value lag rows before the end, or 0 when the series is shorter.
func lastValue(values []float64, lag int) float64 {
	if len(values) < lag {
		return 0
	}
	return values[len(values)-lag]
}
