package credit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"smartpesa/internal/storage"
)

// ErrNoScore is returned when a lender asks for a business that was never scored.
var ErrNoScore = errors.New("no credit score available for this business")

const (
	defaultHistoryLimit = 10
	defaultListLimit    = 100
	defaultWorkers      = 4
)

// Recorder receives scoring instrumentation. A nil Recorder disables it.
type Recorder interface {
	ScoreComputed(score int)
}

// Store is the persistence the credit service needs.
type Store interface {
	storage.RecordReader
	storage.CreditScoreStore
}

// Service caches scores for their validity window and serves lender views.
type Service struct {
	engine   *Engine
	store    Store
	recorder Recorder
	workers  int
	logger   zerolog.Logger
}

// NewService wires the credit service around an engine reading from the same store.
func NewService(engine *Engine, store Store, recorder Recorder, workers int, logger zerolog.Logger) *Service {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Service{
		engine:   engine,
		store:    store,
		recorder: recorder,
		workers:  workers,
		logger:   logger.With().Str("component", "credit").Logger(),
	}
}

// GetOrCalculate returns the caller's still-valid score, computing and persisting a new
// one when none exists or force is set. The bool reports a fresh calculation.
func (s *Service) GetOrCalculate(ctx context.Context, businessID, userID int64, force bool) (storage.CreditScore, bool, error) {
	if err := s.checkOwner(ctx, businessID, userID); err != nil {
		return storage.CreditScore{}, false, err
	}
	if !force {
		existing, err := s.store.LatestValidCreditScore(ctx, businessID, s.engine.now().UTC())
		switch {
		case err == nil:
			return existing, false, nil
		case !isNotFound(err):
			return storage.CreditScore{}, false, fmt.Errorf("load credit score: %w", err)
		}
	}
	score, err := s.calculate(ctx, businessID, userID)
	if err != nil {
		return storage.CreditScore{}, false, err
	}
	return score, true, nil
}

// History lists the caller's score records newest first. A non-positive limit uses 10.
func (s *Service) History(ctx context.Context, businessID, userID int64, limit int) ([]storage.CreditScore, error) {
	if err := s.checkOwner(ctx, businessID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	scores, err := s.store.ListCreditScores(ctx, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit scores: %w", err)
	}
	return scores, nil
}

// LenderProfileLatest builds the lender view from the most recent score, valid or not.
func (s *Service) LenderProfileLatest(ctx context.Context, businessID int64) (*LenderProfile, error) {
	if _, err := s.store.FetchBusiness(ctx, businessID); err != nil {
		return nil, fmt.Errorf("fetch business: %w", err)
	}
	score, err := s.store.LatestCreditScore(ctx, businessID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNoScore
		}
		return nil, fmt.Errorf("load credit score: %w", err)
	}
	return s.engine.LenderProfile(ctx, businessID, score)
}

// ScoredBusiness is a lender list entry.
type ScoredBusiness struct {
	BusinessID     int64           `json:"business_id"`
	BusinessName   string          `json:"business_name"`
	OwnerEmail     string          `json:"owner_email"`
	SmartPesaScore int             `json:"smartpesa_score"`
	RiskLevel      LenderRiskLevel `json:"risk_level"`
	CalculatedAt   time.Time       `json:"calculation_date"`
	ValidUntil     time.Time       `json:"valid_until"`
}

// ListFilter narrows ListScoredBusinesses. Zero bounds and an empty level match all.
type ListFilter struct {
	MinScore  int
	MaxScore  int
	RiskLevel LenderRiskLevel
	Limit     int
}

// ListScoredBusinesses returns businesses with a currently valid score by business id.
// The risk level filter applies after the limit.
func (s *Service) ListScoredBusinesses(ctx context.Context, filter ListFilter) ([]ScoredBusiness, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	rows, err := s.store.ListScoredBusinesses(ctx, storage.ScoreFilter{
		MinScore: filter.MinScore,
		MaxScore: filter.MaxScore,
		ValidAt:  s.engine.now().UTC(),
		Limit:    filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list scored businesses: %w", err)
	}

	out := make([]ScoredBusiness, 0, len(rows))
	for _, row := range rows {
		level := LenderRiskLevelFor(row.Score)
		if filter.RiskLevel != "" && level != filter.RiskLevel {
			continue
		}
		email := row.OwnerEmail
		if email == "" {
			email = unknownEmail
		}
		out = append(out, ScoredBusiness{
			BusinessID:     row.BusinessID,
			BusinessName:   row.BusinessName,
			OwnerEmail:     email,
			SmartPesaScore: row.Score,
			RiskLevel:      level,
			CalculatedAt:   row.CalculatedAt,
			ValidUntil:     row.ValidUntil,
		})
	}
	return out, nil
}

// BatchResult is one business scored by CalculateAll.
type BatchResult struct {
	BusinessID     int64  `json:"business_id"`
	BusinessName   string `json:"business_name"`
	SmartPesaScore int    `json:"smartpesa_score"`
}

// CalculateAll scores every business owned by userID. New records supersede older ones;
// history is kept. Results are ordered by business id.
func (s *Service) CalculateAll(ctx context.Context, userID int64) ([]BatchResult, error) {
	businesses, err := s.store.ListBusinesses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}

	results := make([]BatchResult, len(businesses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, business := range businesses {
		g.Go(func() error {
			score, err := s.calculate(gctx, business.ID, userID)
			if err != nil {
				return fmt.Errorf("business %d: %w", business.ID, err)
			}
			results[i] = BatchResult{BusinessID: business.ID, BusinessName: business.Name, SmartPesaScore: score.Score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].BusinessID < results[j].BusinessID })
	return results, nil
}

// RefreshStale recomputes every score whose latest record has expired and returns how
// many were refreshed. Failures are logged and skipped.
func (s *Service) RefreshStale(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpiredScores(ctx, s.engine.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired scores: %w", err)
	}

	refreshed := make([]bool, len(expired))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, old := range expired {
		g.Go(func() error {
			business, err := s.store.FetchBusiness(gctx, old.BusinessID)
			if err != nil {
				s.logger.Error().Err(err).Int64("business_id", old.BusinessID).Msg("refresh: fetch business failed")
				return nil
			}
			if _, err := s.calculate(gctx, business.ID, business.OwnerID); err != nil {
				s.logger.Error().Err(err).Int64("business_id", old.BusinessID).Msg("refresh: score failed")
				return nil
			}
			refreshed[i] = true
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, ok := range refreshed {
		if ok {
			n++
		}
	}
	s.logger.Info().Int("expired", len(expired)).Int("refreshed", n).Msg("stale credit scores refreshed")
	return n, nil
}

// calculate computes then persists a score; nothing is written if computation fails.
func (s *Service) calculate(ctx context.Context, businessID, userID int64) (storage.CreditScore, error) {
	score, err := s.engine.Calculate(ctx, businessID, userID)
	if err != nil {
		return storage.CreditScore{}, err
	}
	if err := s.store.InsertCreditScore(ctx, score); err != nil {
		return storage.CreditScore{}, fmt.Errorf("insert credit score: %w", err)
	}
	if s.recorder != nil {
		s.recorder.ScoreComputed(score.Score)
	}
	return score, nil
}

func (s *Service) checkOwner(ctx context.Context, businessID, userID int64) error {
	business, err := s.store.FetchBusiness(ctx, businessID)
	if err != nil {
		return fmt.Errorf("fetch business: %w", err)
	}
	if business.OwnerID != userID {
		return fmt.Errorf("business %d: %w", businessID, ErrNotFound)
	}
	return nil
}
