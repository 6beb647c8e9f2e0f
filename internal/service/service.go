// Package service runs the background risk scan and credit score refresh.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"smartpesa/internal/alerting"
	"smartpesa/internal/config"
	"smartpesa/internal/forecast"
	"smartpesa/internal/storage"
)

// Job names registered with the scheduler.
const (
	JobRiskScan     = "risk_scan"
	JobScoreRefresh = "score_refresh"
)

// RiskForecaster produces the 30-day risk view of a business.
type RiskForecaster interface {
	GetRiskAlert(ctx context.Context, businessID int64) (*forecast.RiskAlert, error)
}

// ScoreRefresher recomputes expired credit scores.
type ScoreRefresher interface {
	RefreshStale(ctx context.Context) (int, error)
}

// DispatchRecorder counts alert deliveries. A nil recorder disables it.
type DispatchRecorder interface {
	AlertDispatched(level, result string)
}

// ScanReport summarises one risk scan.
type ScanReport struct {
	Scanned      int
	Insufficient int
	Failed       int
	Alerted      int
	Notified     int
	Suppressed   int
}

// Service orchestrates risk scans, alert persistence, and notification.
type Service struct {
	forecaster RiskForecaster
	reader     storage.RecordReader
	alertStore storage.RiskAlertStore
	refresher  ScoreRefresher
	notifier   alerting.Notifier
	recorder   DispatchRecorder
	logger     zerolog.Logger
	now        func() time.Time

	alertsOn  bool
	minLevel  forecast.RiskLevel
	cooldown  time.Duration
	retention time.Duration
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the monitoring service. The store doubles as advisory locker when it
// supports it.
func New(cfg *config.Config, forecaster RiskForecaster, reader storage.RecordReader, alertStore storage.RiskAlertStore, refresher ScoreRefresher, notifier alerting.Notifier, recorder DispatchRecorder, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := alertStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		forecaster: forecaster,
		reader:     reader,
		alertStore: alertStore,
		refresher:  refresher,
		notifier:   notifier,
		recorder:   recorder,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        time.Now,
		alertsOn:   cfg.Alerting.Enabled,
		minLevel:   forecast.RiskLevel(strings.ToUpper(cfg.Alerting.MinLevel)),
		cooldown:   cfg.Alerting.Cooldown,
		retention:  cfg.Scheduler.AlertRetention,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// ScanRisk forecasts every business, records alerts at or above the minimum level, and
// notifies outside the cooldown window. It is a no-op when another instance holds the lock.
func (s *Service) ScanRisk(ctx context.Context) (ScanReport, error) {
	var report ScanReport
	unlock, proceed, err := s.acquireLock(ctx, s.scanLockKey())
	if err != nil {
		return report, err
	}
	if !proceed {
		s.logger.Info().Msg("skip risk scan because advisory lock held elsewhere")
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	businesses, err := s.reader.ListBusinesses(ctx, 0)
	if err != nil {
		return report, fmt.Errorf("list businesses: %w", err)
	}

	for _, business := range businesses {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		alert, err := s.forecaster.GetRiskAlert(ctx, business.ID)
		switch {
		case errors.Is(err, forecast.ErrInsufficientData):
			report.Insufficient++
			continue
		case err != nil:
			report.Failed++
			s.logger.Error().Err(err).Int64("business_id", business.ID).Msg("risk forecast failed")
			continue
		}
		if rank(alert.RiskLevel) < rank(s.minLevel) {
			continue
		}
		report.Alerted++
		if s.handleAlert(ctx, business, alert) {
			report.Notified++
		} else {
			report.Suppressed++
		}
	}

	s.pruneAlerts(ctx)

	s.logger.Info().
		Int("scanned", report.Scanned).
		Int("insufficient", report.Insufficient).
		Int("failed", report.Failed).
		Int("alerted", report.Alerted).
		Int("notified", report.Notified).
		Msg("risk scan complete")
	return report, nil
}

// RefreshScores recomputes expired credit scores under the advisory lock.
func (s *Service) RefreshScores(ctx context.Context) (int, error) {
	if s.refresher == nil {
		return 0, nil
	}
	unlock, proceed, err := s.acquireLock(ctx, s.refreshLockKey())
	if err != nil {
		return 0, err
	}
	if !proceed {
		s.logger.Info().Msg("skip score refresh because advisory lock held elsewhere")
		return 0, nil
	}
	if unlock != nil {
		defer unlock()
	}
	return s.refresher.RefreshStale(ctx)
}

// handleAlert persists the alert and reports whether a notification went out.
func (s *Service) handleAlert(ctx context.Context, business storage.Business, alert *forecast.RiskAlert) bool {
	now := s.now().UTC()
	messages := make([]string, len(alert.Alerts))
	for i, a := range alert.Alerts {
		messages[i] = a.Message
	}

	cooling := false
	if s.alertStore != nil && s.cooldown > 0 {
		last, err := s.alertStore.LastRiskAlert(ctx, business.ID)
		switch {
		case err == nil:
			cooling = now.Sub(last.CreatedAt) < s.cooldown
		case !errors.Is(err, storage.ErrNotFound):
			s.logger.Error().Err(err).Int64("business_id", business.ID).Msg("failed to load last alert")
		}
	}

	if s.alertStore != nil {
		record := storage.RiskAlertRecord{
			BusinessID: business.ID,
			Day:        now,
			Level:      string(alert.RiskLevel),
			RiskScore:  alert.RiskScore,
			Messages:   messages,
			CreatedAt:  now,
		}
		if _, err := s.alertStore.InsertRiskAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Int64("business_id", business.ID).Msg("failed to persist alert record")
		}
	}

	if !s.alertsOn || s.notifier == nil {
		return false
	}
	if cooling {
		s.dispatched(alert.RiskLevel, "suppressed")
		return false
	}

	note := alerting.Notification{
		BusinessID:   business.ID,
		BusinessName: business.Name,
		Day:          now,
		Level:        string(alert.RiskLevel),
		RiskScore:    alert.RiskScore,
		ForecastAvg:  alert.Summary.ForecastAvg,
		NegativeDays: alert.Summary.NegativeDays,
		Messages:     messages,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Int64("business_id", business.ID).Msg("failed to dispatch alert")
		s.dispatched(alert.RiskLevel, "error")
		return false
	}
	s.dispatched(alert.RiskLevel, "sent")
	return true
}

func (s *Service) pruneAlerts(ctx context.Context) {
	if s.alertStore == nil || s.retention <= 0 {
		return
	}
	if err := s.alertStore.DeleteRiskAlertsBefore(ctx, s.now().UTC().Add(-s.retention)); err != nil {
		s.logger.Error().Err(err).Msg("failed to prune alert records")
	}
}

func (s *Service) dispatched(level forecast.RiskLevel, result string) {
	if s.recorder != nil {
		s.recorder.AlertDispatched(string(level), result)
	}
}

func rank(level forecast.RiskLevel) int {
	switch level {
	case forecast.RiskHigh:
		return 2
	case forecast.RiskMedium:
		return 1
	default:
		return 0
	}
}

// Scan and refresh lock distinct keys.
func (s *Service) scanLockKey() int64 { return s.lockKey }

func (s *Service) refreshLockKey() int64 { return s.lockKey + 1 }

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
