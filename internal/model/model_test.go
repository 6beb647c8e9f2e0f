package model

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"smartpesa/internal/pipeline"
)

func dates(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func TestScore(t *testing.T) {
	m := Score([]float64{10, 0, -5}, []float64{8, 1, -5})
	assert.InDelta(t, 1.0, m.MAE, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3), m.RMSE, 1e-12)
	// the zero-actual day dominates through the epsilon denominator
	assert.Greater(t, m.MAPE, 1e9)
	assert.Equal(t, Metrics{}, Score(nil, nil))
}

func TestFutureDates(t *testing.T) {
	last := time.Date(2025, 12, 30, 15, 0, 0, 0, time.UTC)
	got := FutureDates(last, 3)
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), got[2])
	assert.Nil(t, FutureDates(last, 0))
}

func TestKenyaHoliday(t *testing.T) {
	assert.Equal(t, "Jamhuri Day", KenyaHoliday(time.Date(2025, 12, 12, 9, 0, 0, 0, time.UTC)))
	// Easter 2025 fell on April 20.
	assert.Equal(t, "Good Friday", KenyaHoliday(time.Date(2025, 4, 18, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Easter Monday", KenyaHoliday(time.Date(2025, 4, 21, 0, 0, 0, 0, time.UTC)))
	assert.Empty(t, KenyaHoliday(time.Date(2025, 4, 22, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), easterSunday(2024))
}

func TestTrendModelRequiresFit(t *testing.T) {
	tm := NewTrendModel(DefaultTrendConfig())
	_, err := tm.Predict(dates(time.Now(), 1))
	require.ErrorIs(t, err, ErrModelNotFit)
	_, err = tm.PointEstimates(nil)
	require.ErrorIs(t, err, ErrModelNotFit)
}

func TestTrendModelLinearSeries(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	history := dates(start, 60)
	values := make([]float64, len(history))
	for i := range values {
		values[i] = 1000 + 10*float64(i)
	}

	cfg := DefaultTrendConfig()
	cfg.UncertaintySamples = 200
	tm := NewTrendModel(cfg)
	require.NoError(t, tm.Fit(context.Background(), history, values))

	metrics, err := tm.Evaluate(history, values)
	require.NoError(t, err)
	assert.Less(t, metrics.MAPE, 5.0)

	future := FutureDates(history[len(history)-1], 7)
	points, err := tm.Predict(future)
	require.NoError(t, err)
	require.Len(t, points, 7)
	for i, p := range points {
		assert.Equal(t, future[i], p.Date)
		assert.LessOrEqual(t, p.Lower, p.Upper)
		assert.InDelta(t, 1600+10*float64(i), p.Yhat, 150)
	}
	assert.Greater(t, points[6].Yhat, points[0].Yhat)

	again, err := tm.Predict(future)
	require.NoError(t, err)
	assert.Equal(t, points, again)
}

func isWeekend(d time.Time) bool {
	return d.Weekday() == time.Saturday || d.Weekday() == time.Sunday
}

func TestTrendModelWeeklySeasonality(t *testing.T) {
	history := dates(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 120)
	values := make([]float64, len(history))
	for i, d := range history {
		values[i] = 1000
		if isWeekend(d) {
			values[i] = 200
		}
	}

	for _, multiplicative := range []bool{true, false} {
		t.Run(fmt.Sprintf("multiplicative=%t", multiplicative), func(t *testing.T) {
			cfg := DefaultTrendConfig()
			cfg.Multiplicative = multiplicative
			cfg.UncertaintySamples = 200
			tm := NewTrendModel(cfg)
			require.NoError(t, tm.Fit(context.Background(), history, values))

			points, err := tm.Predict(FutureDates(history[len(history)-1], 14))
			require.NoError(t, err)

			var weekday, weekend []float64
			for _, p := range points {
				if isWeekend(p.Date) {
					weekend = append(weekend, p.Yhat)
					assert.Less(t, p.Yhat, 500.0, p.Date)
				} else {
					weekday = append(weekday, p.Yhat)
					assert.Greater(t, p.Yhat, 700.0, p.Date)
				}
			}
			require.Len(t, weekend, 4)
			require.Len(t, weekday, 10)
			assert.Greater(t, stat.Mean(weekday, nil)-stat.Mean(weekend, nil), 500.0)
		})
	}
}

func TestTrendModelHolidayEffect(t *testing.T) {
	history := dates(time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), 90)
	values := make([]float64, len(history))
	for i, d := range history {
		values[i] = 500
		if KenyaHoliday(d) == "Jamhuri Day" {
			values[i] = 3000
		}
	}

	cfg := DefaultTrendConfig()
	cfg.Multiplicative = false
	cfg.UncertaintySamples = 100
	tm := NewTrendModel(cfg)
	require.NoError(t, tm.Fit(context.Background(), history, values))

	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	est, err := tm.PointEstimates([]time.Time{
		day(2024, 12, 11), day(2024, 12, 12), day(2024, 12, 25),
		day(2025, 12, 11), day(2025, 12, 12),
	})
	require.NoError(t, err)
	assert.Less(t, est[0], 1000.0)
	assert.Greater(t, est[1], 2000.0)
	assert.Less(t, est[2], 1000.0)
	// the learned effect carries to the next Jamhuri Day
	assert.Greater(t, est[4]-est[3], 1500.0)
}

func TestTrendModelIntervalWidens(t *testing.T) {
	history := dates(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 120)
	values := make([]float64, len(history))
	for i, d := range history {
		level := 2000 + 20*float64(i)
		if i > 60 {
			level = 3200 - 10*float64(i-60)
		}
		if isWeekend(d) {
			level -= 400
		}
		values[i] = level
	}

	cfg := DefaultTrendConfig()
	cfg.ChangepointPriorScale = 0.5
	cfg.UncertaintySamples = 300
	tm := NewTrendModel(cfg)
	require.NoError(t, tm.Fit(context.Background(), history, values))

	points, err := tm.Predict(FutureDates(history[len(history)-1], 90))
	require.NoError(t, err)
	require.Len(t, points, 90)

	width := func(ps []Point) float64 {
		var sum float64
		for _, p := range ps {
			assert.LessOrEqual(t, p.Lower, p.Upper)
			sum += p.Upper - p.Lower
		}
		return sum / float64(len(ps))
	}
	early, late := width(points[:7]), width(points[83:])
	assert.Greater(t, late, 2*early)
	assert.Greater(t, width(points[40:47]), early)
}

func TestTrendModelRejectsShortSeries(t *testing.T) {
	tm := NewTrendModel(DefaultTrendConfig())
	err := tm.Fit(context.Background(), dates(time.Now(), 1), []float64{1})
	require.Error(t, err)
}

func TestForestLearnsStepFunction(t *testing.T) {
	X := make([][]float64, 0, 40)
	y := make([]float64, 0, 40)
	for i := 0; i < 40; i++ {
		X = append(X, []float64{float64(i), 7})
		if i < 20 {
			y = append(y, -5)
		} else {
			y = append(y, 5)
		}
	}

	f := NewForest(ForestConfig{Trees: 20, MaxDepth: 4, Seed: 42})
	require.NoError(t, f.Fit(context.Background(), X, y))

	pred, err := f.Predict([][]float64{{2, 7}, {35, 7}})
	require.NoError(t, err)
	assert.Less(t, pred[0], -3.0)
	assert.Greater(t, pred[1], 3.0)

	imp, err := f.Importances()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, imp[0]+imp[1], 1e-9)
	assert.InDelta(t, 1.0, imp[0], 1e-9)

	other := NewForest(ForestConfig{Trees: 20, MaxDepth: 4, Seed: 42})
	require.NoError(t, other.Fit(context.Background(), X, y))
	again, err := other.Predict([][]float64{{2, 7}, {35, 7}})
	require.NoError(t, err)
	assert.Equal(t, pred, again)
}

func TestForestUniformImportanceWithoutSplits(t *testing.T) {
	f := NewForest(ForestConfig{Trees: 5, MaxDepth: 3, Seed: 1})
	require.NoError(t, f.Fit(context.Background(), [][]float64{{1, 2}, {3, 4}}, []float64{2, 2}))
	imp, err := f.Importances()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, imp)

	_, err = NewForest(DefaultForestConfig()).Predict([][]float64{{1}})
	require.ErrorIs(t, err, ErrModelNotFit)
}

func featureRows(n int) []pipeline.FeatureRow {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	days := make([]pipeline.DailyTotal, 0, n+30)
	for i := 0; i < n+30; i++ {
		days = append(days, pipeline.DailyTotal{Date: start.AddDate(0, 0, i)})
	}
	return pipeline.Engineer(days, pipeline.Options{}).Complete
}

func TestResidualModelSplit(t *testing.T) {
	rows := featureRows(10)
	residuals := make([]float64, len(rows))
	for i := range residuals {
		residuals[i] = float64(i)
	}

	m := NewResidualModel(ForestConfig{Trees: 10, MaxDepth: 3, Seed: 42}, ResidualFeatures(false))
	_, err := m.Predict(rows)
	require.ErrorIs(t, err, ErrModelNotFit)

	require.NoError(t, m.Fit(context.Background(), rows, residuals))
	assert.Equal(t, 8, m.Metrics().TrainRows)
	assert.Equal(t, 2, m.Metrics().TestRows)

	imp, err := m.Importance()
	require.NoError(t, err)
	assert.Len(t, imp, 14)
	var sum float64
	for _, v := range imp {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	pred, err := m.Predict(rows)
	require.NoError(t, err)
	assert.Len(t, pred, len(rows))
}

func TestResidualModelWithoutRows(t *testing.T) {
	m := NewResidualModel(DefaultForestConfig(), ResidualFeatures(true))
	require.NoError(t, m.Fit(context.Background(), nil, nil))

	pred, err := m.Predict(featureRows(2))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, pred)

	imp, err := m.Importance()
	require.NoError(t, err)
	assert.InDelta(t, 1.0/21, imp["net_lag_4"], 1e-12)
	assert.InDelta(t, 1.0/21, imp["net_lag_90"], 1e-12)
}

func TestExtendedFeaturesReadLongLags(t *testing.T) {
	names := ResidualFeatures(true)
	require.Len(t, names, len(ResidualFeatures(false))+len(pipeline.ExtendedNetLagDays))
	assert.Contains(t, names, "net_lag_21")
	assert.Contains(t, names, "net_lag_90")

	row := pipeline.FeatureRow{ExtendedNetLags: [7]float64{4, 5, 6, 21, 28, 60, 90}}
	x, err := FeatureMatrix([]pipeline.FeatureRow{row}, names[len(names)-len(pipeline.ExtendedNetLagDays):])
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{4, 5, 6, 21, 28, 60, 90}}, x)
}
