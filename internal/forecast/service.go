// Package forecast drives the hybrid cash-flow forecast end to end and derives risk alerts.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"smartpesa/internal/model"
	"smartpesa/internal/pipeline"
	"smartpesa/internal/storage"
)

// ErrInsufficientData is returned when the history is too short to forecast.
var ErrInsufficientData = errors.New("insufficient data for forecasting")

// ErrInvalidHorizon is returned for a non-positive forecast horizon.
var ErrInvalidHorizon = errors.New("days forward must be positive")

// RiskAlertHorizon is the horizon behind risk alerts.
const RiskAlertHorizon = 30

// Config tunes the forecast service.
type Config struct {
	HistoryDays int
	MinDays     int
	Extended    bool
	Trend       model.TrendConfig
	Forest      model.ForestConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryDays: 365,
		MinDays:     30,
		Trend:       model.DefaultTrendConfig(),
		Forest:      model.DefaultForestConfig(),
	}
}

// Recorder receives forecast instrumentation. A nil Recorder disables it.
type Recorder interface {
	ObserveFit(model string, d time.Duration)
	ForecastCompleted(outcome string)
}

// Service fits fresh models for every request; nothing is cached between calls.
type Service struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	recorder Recorder
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService wires the forecast service. A nil clock uses time.Now.
func NewService(cfg Config, reader storage.RecordReader, recorder Recorder, now func() time.Time, logger zerolog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:      cfg,
		pipeline: pipeline.New(reader, pipeline.Options{Extended: cfg.Extended}, now, logger),
		recorder: recorder,
		now:      now,
		logger:   logger.With().Str("component", "forecast").Logger(),
	}
}

// GenerateForecast builds the hybrid forecast for the next daysForward days.
func (s *Service) GenerateForecast(ctx context.Context, businessID int64, daysForward int) (*Bundle, error) {
	bundle, err := s.generate(ctx, businessID, daysForward)
	s.record(err)
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

func (s *Service) generate(ctx context.Context, businessID int64, daysForward int) (*Bundle, error) {
	if daysForward <= 0 {
		return nil, ErrInvalidHorizon
	}

	series, err := s.pipeline.Build(ctx, businessID, s.cfg.HistoryDays)
	if err != nil {
		return nil, fmt.Errorf("build series: %w", err)
	}
	if len(series.Daily) < s.cfg.MinDays {
		return nil, fmt.Errorf("%w: need at least %d days of data, have %d", ErrInsufficientData, s.cfg.MinDays, len(series.Daily))
	}

	histDates := make([]time.Time, len(series.Daily))
	for i, d := range series.Daily {
		histDates[i] = d.Date
	}
	histNet := pipeline.NetValues(series.Daily)

	trend := model.NewTrendModel(s.cfg.Trend)
	if err := s.timed("trend", func() error { return s.runFit(ctx, func() error { return trend.Fit(ctx, histDates, histNet) }) }); err != nil {
		return nil, fmt.Errorf("fit trend model: %w", err)
	}
	baselineMetrics, err := trend.Evaluate(histDates, histNet)
	if err != nil {
		return nil, fmt.Errorf("evaluate trend model: %w", err)
	}

	complete := series.Frame.Complete
	completeDates := make([]time.Time, len(complete))
	completeNet := make([]float64, len(complete))
	for i, row := range complete {
		completeDates[i] = row.Date
		completeNet[i] = row.Net
	}
	inSample, err := trend.PointEstimates(completeDates)
	if err != nil {
		return nil, fmt.Errorf("predict trend model: %w", err)
	}
	residuals := make([]float64, len(complete))
	for i := range complete {
		residuals[i] = completeNet[i] - inSample[i]
	}

	futureRows := BuildFutureFrame(series.Daily, daysForward)
	futureDates := make([]time.Time, len(futureRows))
	for i, row := range futureRows {
		futureDates[i] = row.Date
	}

	residual := model.NewResidualModel(s.cfg.Forest, model.ResidualFeatures(s.cfg.Extended))
	var (
		baseline    []model.Point
		corrections []float64
		fittedCorr  []float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		points, err := trend.Predict(futureDates)
		if err != nil {
			return fmt.Errorf("predict trend model: %w", err)
		}
		baseline = points
		return nil
	})
	g.Go(func() error {
		if err := s.timed("residual", func() error { return residual.Fit(gctx, complete, residuals) }); err != nil {
			return fmt.Errorf("fit residual model: %w", err)
		}
		var err error
		if fittedCorr, err = residual.Predict(complete); err != nil {
			return fmt.Errorf("predict residual model: %w", err)
		}
		if corrections, err = residual.Predict(futureRows); err != nil {
			return fmt.Errorf("predict residual model: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hybridPoints, err := Combine(baseline, corrections)
	if err != nil {
		return nil, err
	}
	importance, err := residual.Importance()
	if err != nil {
		return nil, fmt.Errorf("residual importance: %w", err)
	}

	hybridFitted := make([]float64, len(complete))
	for i := range complete {
		hybridFitted[i] = inSample[i] + fittedCorr[i]
	}
	hybridScore := model.Score(completeNet, hybridFitted)
	rm := residual.Metrics()

	summary := pipeline.Summarize(series.Daily)
	bundle := &Bundle{
		BusinessID:   businessID,
		ForecastDate: s.now().UTC(),
		DaysForward:  daysForward,
		DataSummary: DataSummary{
			TotalDays:    summary.TotalDays,
			DateRange:    DateRange{Start: Date(summary.Start), End: Date(summary.End)},
			TotalIncome:  summary.TotalIncome.InexactFloat64(),
			TotalExpense: summary.TotalExpense.InexactFloat64(),
			AvgDailyNet:  summary.AverageDailyNet.InexactFloat64(),
		},
		Baseline: BaselineResult{
			Metrics:  baselineMetrics,
			Forecast: baselinePoints(baseline),
		},
		Hybrid: HybridResult{
			Metrics: HybridMetrics{
				MAE:       hybridScore.MAE,
				RMSE:      hybridScore.RMSE,
				MAPE:      hybridScore.MAPE,
				RFMAE:     rm.MAE,
				RFRMSE:    rm.RMSE,
				TrainRows: rm.TrainRows,
				TestRows:  rm.TestRows,
			},
			FeatureImportance: importance,
			Forecast:          hybridPoints,
		},
		Risk: AnalyzeRisk(Predictions(hybridPoints), histNet),
	}

	s.logger.Info().
		Int64("business_id", businessID).
		Int("days_forward", daysForward).
		Int("history_days", summary.TotalDays).
		Int("risk_score", bundle.Risk.RiskScore).
		Msg("forecast generated")

	return bundle, nil
}

// GetRiskAlert wraps a 30-day forecast into a risk level view. Forecast errors are
// returned unchanged.
func (s *Service) GetRiskAlert(ctx context.Context, businessID int64) (*RiskAlert, error) {
	bundle, err := s.GenerateForecast(ctx, businessID, RiskAlertHorizon)
	if err != nil {
		return nil, err
	}
	return AlertFromBundle(bundle, s.now().UTC()), nil
}

// AlertFromBundle derives the risk alert view of a forecast.
func AlertFromBundle(bundle *Bundle, at time.Time) *RiskAlert {
	var avg float64
	if preds := Predictions(bundle.Hybrid.Forecast); len(preds) > 0 {
		avg = stat.Mean(preds, nil)
	}
	return &RiskAlert{
		BusinessID: bundle.BusinessID,
		Timestamp:  at,
		RiskLevel:  RiskLevelFor(bundle.Risk.RiskScore),
		RiskScore:  bundle.Risk.RiskScore,
		Alerts:     bundle.Risk.Alerts,
		Summary: RiskSummary{
			ForecastAvg:  avg,
			NegativeDays: bundle.Risk.NegativeDays,
			Volatility:   bundle.Risk.ForecastVolatility,
		},
	}
}

// Readiness reports whether the business has enough daily history to forecast.
func (s *Service) Readiness(ctx context.Context, businessID int64) (*Readiness, error) {
	series, err := s.pipeline.Build(ctx, businessID, s.cfg.HistoryDays)
	if err != nil {
		return nil, fmt.Errorf("build series: %w", err)
	}

	out := &Readiness{BusinessID: businessID, RequiredDays: s.cfg.MinDays}
	if series.Empty() {
		out.Message = "No transaction data found"
		return out, nil
	}

	out.DaysOfData = len(series.Daily)
	out.Ready = out.DaysOfData >= s.cfg.MinDays
	out.DateRange = &DateRange{
		Start: Date(series.Daily[0].Date),
		End:   Date(series.Daily[len(series.Daily)-1].Date),
	}
	if out.Ready {
		out.Message = "Sufficient data for forecasting"
	} else {
		out.Message = fmt.Sprintf("Need %d more days of data", s.cfg.MinDays-out.DaysOfData)
	}
	return out, nil
}

// runFit runs a CPU-bound fit on its own goroutine so the caller can stop waiting when
// the context ends. The abandoned fit only touches call-local models.
func (s *Service) runFit(ctx context.Context, fit func() error) error {
	done := make(chan error, 1)
	go func() { done <- fit() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) timed(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.recorder != nil && err == nil {
		s.recorder.ObserveFit(name, time.Since(start))
	}
	s.logger.Debug().Str("model", name).Dur("duration", time.Since(start)).Err(err).Msg("model fit")
	return err
}

func (s *Service) record(err error) {
	if s.recorder == nil {
		return
	}
	switch {
	case err == nil:
		s.recorder.ForecastCompleted("ok")
	case errors.Is(err, ErrInsufficientData):
		s.recorder.ForecastCompleted("insufficient_data")
	default:
		s.recorder.ForecastCompleted("error")
	}
}

func baselinePoints(points []model.Point) []BaselinePoint {
	out := make([]BaselinePoint, len(points))
	for i, p := range points {
		out[i] = BaselinePoint{Date: Date(p.Date), Yhat: p.Yhat, Lower: p.Lower, Upper: p.Upper}
	}
	return out
}
