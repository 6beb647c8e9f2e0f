package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"smartpesa/internal/pipeline"
)

const (
	yearlyPeriod = 365.25
	weeklyPeriod = 7.0
	yearlyOrder  = 10
	weeklyOrder  = 3

	// Yearly terms need a full cycle, weekly terms two.
	yearlyMinSpanDays = 365
	weeklyMinSpanDays = 14
)

// TrendConfig tunes the trend-seasonality model.
type TrendConfig struct {
	Changepoints          int
	ChangepointRange      float64
	ChangepointPriorScale float64
	SeasonalityPriorScale float64
	HolidaysPriorScale    float64
	Multiplicative        bool
	IntervalWidth         float64
	UncertaintySamples    int
	Seed                  uint64
}

// DefaultTrendConfig mirrors the production forecaster settings.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		Changepoints:          25,
		ChangepointRange:      0.8,
		ChangepointPriorScale: 0.05,
		SeasonalityPriorScale: 10,
		HolidaysPriorScale:    10,
		Multiplicative:        true,
		IntervalWidth:         0.8,
		UncertaintySamples:    1000,
		Seed:                  42,
	}
}

// TrendModel is a piecewise-linear trend with Fourier seasonality and holiday effects.
// Seasonal terms scale with the trend level in multiplicative mode.
type TrendModel struct {
	cfg TrendConfig

	fitted  bool
	start   time.Time
	tScale  float64
	yScale  float64
	cps     []float64
	k, m    float64
	deltas  []float64
	columns []seasonalColumn
	beta    []float64
	sigma   float64
}

type seasonalColumn struct {
	name    string
	holiday bool
	value   func(day time.Time) float64
}

var _ BaselineForecaster = (*TrendModel)(nil)

// NewTrendModel creates an unfitted model.
func NewTrendModel(cfg TrendConfig) *TrendModel {
	return &TrendModel{cfg: cfg}
}

// Fit estimates trend, seasonality and noise from a daily series.
func (tm *TrendModel) Fit(ctx context.Context, dates []time.Time, values []float64) error {
	n := len(dates)
	if n != len(values) {
		return fmt.Errorf("fit trend: %d dates for %d values", n, len(values))
	}
	if n < 2 {
		return fmt.Errorf("fit trend: need at least 2 observations, got %d", n)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := pipeline.Day(dates[0])
	spanDays := pipeline.Day(dates[n-1]).Sub(start).Hours() / 24
	tScale := spanDays
	if tScale <= 0 {
		tScale = 1
	}

	yScale := 0.0
	for _, v := range values {
		yScale = math.Max(yScale, math.Abs(v))
	}
	if yScale == 0 {
		yScale = 1
	}

	t := make([]float64, n)
	y := make([]float64, n)
	for i := range dates {
		t[i] = pipeline.Day(dates[i]).Sub(start).Hours() / 24 / tScale
		y[i] = values[i] / yScale
	}

	cps := changepointLocations(t, tm.cfg.Changepoints, tm.cfg.ChangepointRange)

	// Stage one: trend with shrunk rate changes.
	trendCols := 2 + len(cps)
	X1 := mat.NewDense(n, trendCols, nil)
	penalty1 := make([]float64, trendCols)
	penalty1[0], penalty1[1] = 1e-9, 1e-9
	deltaPenalty := 1 / (2 * tm.cfg.ChangepointPriorScale * tm.cfg.ChangepointPriorScale)
	for j := range cps {
		penalty1[2+j] = deltaPenalty
	}
	for i := 0; i < n; i++ {
		X1.Set(i, 0, 1)
		X1.Set(i, 1, t[i])
		for j, c := range cps {
			X1.Set(i, 2+j, math.Max(0, t[i]-c))
		}
	}
	trendBeta, err := ridge(X1, y, penalty1)
	if err != nil {
		return fmt.Errorf("fit trend: %w", err)
	}
	tm.m, tm.k = trendBeta[0], trendBeta[1]
	tm.deltas = trendBeta[2:]
	tm.cps = cps
	tm.start, tm.tScale, tm.yScale = start, tScale, yScale

	g := make([]float64, n)
	for i := range t {
		g[i] = tm.trendAt(t[i])
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Stage two: seasonality and holidays on what the trend leaves.
	tm.columns = tm.seasonalColumns(dates, spanDays)
	tm.beta = nil
	residual := make([]float64, n)
	for i := range y {
		residual[i] = y[i] - g[i]
	}
	if len(tm.columns) > 0 {
		X2 := mat.NewDense(n, len(tm.columns), nil)
		penalty2 := make([]float64, len(tm.columns))
		for j, col := range tm.columns {
			scale := tm.cfg.SeasonalityPriorScale
			if col.holiday {
				scale = tm.cfg.HolidaysPriorScale
			}
			penalty2[j] = 1 / (2 * scale * scale)
			for i, d := range dates {
				v := col.value(d)
				if tm.cfg.Multiplicative {
					v *= g[i]
				}
				X2.Set(i, j, v)
			}
		}
		beta, err := ridge(X2, residual, penalty2)
		if err != nil {
			return fmt.Errorf("fit seasonality: %w", err)
		}
		tm.beta = beta
	}

	fittedErr := make([]float64, n)
	for i, d := range dates {
		fittedErr[i] = y[i] - tm.compose(g[i], tm.seasonalAt(d))
	}
	tm.sigma = stat.PopStdDev(fittedErr, nil)
	tm.fitted = true
	return nil
}

// PointEstimates returns the deterministic prediction for each date.
func (tm *TrendModel) PointEstimates(dates []time.Time) ([]float64, error) {
	if !tm.fitted {
		return nil, ErrModelNotFit
	}
	out := make([]float64, len(dates))
	for i, d := range dates {
		out[i] = tm.compose(tm.trendAt(tm.scaleTime(d)), tm.seasonalAt(d)) * tm.yScale
	}
	return out, nil
}

// Predict returns point estimates with intervals. Dates past the training range carry
// simulated trend-change uncertainty on top of observation noise.
func (tm *TrendModel) Predict(dates []time.Time) ([]Point, error) {
	if !tm.fitted {
		return nil, ErrModelNotFit
	}
	if len(dates) == 0 {
		return nil, nil
	}

	ts := make([]float64, len(dates))
	season := make([]float64, len(dates))
	tMax := 1.0
	for i, d := range dates {
		ts[i] = tm.scaleTime(d)
		season[i] = tm.seasonalAt(d)
		tMax = math.Max(tMax, ts[i])
	}

	samples := max(tm.cfg.UncertaintySamples, 1)
	src := rand.NewPCG(tm.cfg.Seed, tm.cfg.Seed)
	rnd := rand.New(src)
	noise := distuv.Normal{Mu: 0, Sigma: tm.sigma, Src: src}
	deltaScale := 1e-8
	if len(tm.deltas) > 0 {
		deltaScale += stat.Mean(absAll(tm.deltas), nil)
	}
	laplace := distuv.Laplace{Mu: 0, Scale: deltaScale, Src: src}

	draws := make([][]float64, len(dates))
	for i := range draws {
		draws[i] = make([]float64, samples)
	}

	for s := 0; s < samples; s++ {
		var newCps, newDeltas []float64
		if tMax > 1 && len(tm.cps) > 0 {
			rate := float64(len(tm.cps)) * (tMax - 1)
			changes := int(distuv.Poisson{Lambda: rate, Src: src}.Rand())
			newCps = make([]float64, changes)
			newDeltas = make([]float64, changes)
			for c := 0; c < changes; c++ {
				newCps[c] = 1 + rnd.Float64()*(tMax-1)
				newDeltas[c] = laplace.Rand()
			}
		}
		for i, t := range ts {
			g := tm.trendAt(t)
			for c, cp := range newCps {
				if t > cp {
					g += newDeltas[c] * (t - cp)
				}
			}
			draws[i][s] = (tm.compose(g, season[i]) + noise.Rand()) * tm.yScale
		}
	}

	lowerQ := (1 - tm.cfg.IntervalWidth) / 2
	upperQ := 1 - lowerQ
	out := make([]Point, len(dates))
	for i, d := range dates {
		sort.Float64s(draws[i])
		out[i] = Point{
			Date:  pipeline.Day(d),
			Yhat:  tm.compose(tm.trendAt(ts[i]), season[i]) * tm.yScale,
			Lower: stat.Quantile(lowerQ, stat.Empirical, draws[i], nil),
			Upper: stat.Quantile(upperQ, stat.Empirical, draws[i], nil),
		}
	}
	return out, nil
}

// Evaluate re-predicts the given dates and scores them against actual values.
func (tm *TrendModel) Evaluate(dates []time.Time, actual []float64) (Metrics, error) {
	pred, err := tm.PointEstimates(dates)
	if err != nil {
		return Metrics{}, err
	}
	return Score(actual, pred), nil
}

func (tm *TrendModel) scaleTime(d time.Time) float64 {
	return pipeline.Day(d).Sub(tm.start).Hours() / 24 / tm.tScale
}

func (tm *TrendModel) trendAt(t float64) float64 {
	g := tm.m + tm.k*t
	for j, c := range tm.cps {
		if t > c {
			g += tm.deltas[j] * (t - c)
		}
	}
	return g
}

func (tm *TrendModel) seasonalAt(d time.Time) float64 {
	var s float64
	for j, col := range tm.columns {
		s += tm.beta[j] * col.value(d)
	}
	return s
}

func (tm *TrendModel) compose(trend, seasonal float64) float64 {
	if tm.cfg.Multiplicative {
		return trend * (1 + seasonal)
	}
	return trend + seasonal
}

func (tm *TrendModel) seasonalColumns(dates []time.Time, spanDays float64) []seasonalColumn {
	var cols []seasonalColumn
	if spanDays >= yearlyMinSpanDays {
		cols = append(cols, fourierColumns("yearly", yearlyPeriod, yearlyOrder)...)
	}
	if spanDays >= weeklyMinSpanDays {
		cols = append(cols, fourierColumns("weekly", weeklyPeriod, weeklyOrder)...)
	}

	seen := make(map[string]bool)
	var names []string
	for _, d := range dates {
		if name := KenyaHoliday(d); name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		holiday := name
		cols = append(cols, seasonalColumn{
			name:    "holiday:" + holiday,
			holiday: true,
			value: func(day time.Time) float64 {
				if KenyaHoliday(day) == holiday {
					return 1
				}
				return 0
			},
		})
	}
	return cols
}

func fourierColumns(name string, period float64, order int) []seasonalColumn {
	cols := make([]seasonalColumn, 0, 2*order)
	for i := 1; i <= order; i++ {
		freq := 2 * math.Pi * float64(i) / period
		cols = append(cols,
			seasonalColumn{name: fmt.Sprintf("%s_sin_%d", name, i), value: func(d time.Time) float64 { return math.Sin(freq * epochDays(d)) }},
			seasonalColumn{name: fmt.Sprintf("%s_cos_%d", name, i), value: func(d time.Time) float64 { return math.Cos(freq * epochDays(d)) }},
		)
	}
	return cols
}

func epochDays(d time.Time) float64 {
	return float64(pipeline.Day(d).Unix()) / 86400
}

// changepointLocations spreads up to n changepoints uniformly over the first share of
// the scaled history, skipping the first observation.
func changepointLocations(t []float64, n int, share float64) []float64 {
	hist := int(math.Floor(float64(len(t)) * share))
	if n+1 > hist {
		n = hist - 1
	}
	if n <= 0 {
		return nil
	}
	grid := make([]float64, n+1)
	floats.Span(grid, 0, float64(hist-1))
	out := make([]float64, 0, n)
	for _, idx := range grid[1:] {
		out = append(out, t[int(math.Round(idx))])
	}
	return out
}

// ridge solves (X'X + diag(penalty)) beta = X'y.
func ridge(X *mat.Dense, y []float64, penalty []float64) ([]float64, error) {
	_, cols := X.Dims()
	var xtx mat.SymDense
	xtx.SymOuterK(1, X.T())
	for j := 0; j < cols; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+penalty[j])
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), mat.NewVecDense(len(y), y))

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, fmt.Errorf("normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, fmt.Errorf("solve normal equations: %w", err)
	}

	out := make([]float64, cols)
	for j := range out {
		out[j] = beta.AtVec(j)
	}
	return out, nil
}

func absAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Abs(v)
	}
	return out
}
