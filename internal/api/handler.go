// Package api exposes forecasting and credit scoring over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"smartpesa/internal/credit"
	"smartpesa/internal/forecast"
	"smartpesa/internal/storage"
)

// Forecaster is the forecasting surface used by the handlers.
type Forecaster interface {
	GenerateForecast(ctx context.Context, businessID int64, daysForward int) (*forecast.Bundle, error)
	GetRiskAlert(ctx context.Context, businessID int64) (*forecast.RiskAlert, error)
	Readiness(ctx context.Context, businessID int64) (*forecast.Readiness, error)
}

// CreditService is the scoring surface used by the handlers.
type CreditService interface {
	GetOrCalculate(ctx context.Context, businessID, userID int64, force bool) (storage.CreditScore, bool, error)
	History(ctx context.Context, businessID, userID int64, limit int) ([]storage.CreditScore, error)
	LenderProfileLatest(ctx context.Context, businessID int64) (*credit.LenderProfile, error)
	ListScoredBusinesses(ctx context.Context, filter credit.ListFilter) ([]credit.ScoredBusiness, error)
	CalculateAll(ctx context.Context, userID int64) ([]credit.BatchResult, error)
}

const (
	msgBusinessNotFound = "Business not found"
	msgNoScore          = "No credit score available for this business"
)

// Handler serves the HTTP endpoints.
type Handler struct {
	forecasts Forecaster
	credit    CreditService
	reader    storage.RecordReader
	group     singleflight.Group
	logger    zerolog.Logger
}

// NewHandler wires handlers. The reader is used for ownership checks.
func NewHandler(forecasts Forecaster, creditSvc CreditService, reader storage.RecordReader, logger zerolog.Logger) *Handler {
	return &Handler{
		forecasts: forecasts,
		credit:    creditSvc,
		reader:    reader,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Forecast returns a handler for a fixed horizon.
func (h *Handler) Forecast(days int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, ok := h.ownedBusiness(w, r)
		if !ok {
			return
		}
		key := fmt.Sprintf("forecast:%d:%d", businessID, days)
		v, err, _ := h.group.Do(key, func() (any, error) {
			return h.forecasts.GenerateForecast(context.WithoutCancel(r.Context()), businessID, days)
		})
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// RiskAlert serves the 30-day risk view.
func (h *Handler) RiskAlert(w http.ResponseWriter, r *http.Request) {
	businessID, ok := h.ownedBusiness(w, r)
	if !ok {
		return
	}
	v, err, _ := h.group.Do(fmt.Sprintf("risk:%d", businessID), func() (any, error) {
		return h.forecasts.GetRiskAlert(context.WithoutCancel(r.Context()), businessID)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Health reports forecast readiness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	businessID, ok := h.ownedBusiness(w, r)
	if !ok {
		return
	}
	readiness, err := h.forecasts.Readiness(r.Context(), businessID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readiness)
}

// CreditScore returns the caller's current score, recomputing when stale or forced.
func (h *Handler) CreditScore(w http.ResponseWriter, r *http.Request) {
	businessID, ok := pathID(w, r)
	if !ok {
		return
	}
	force, err := optionalBool(r, "force_refresh")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	score, _, err := h.credit.GetOrCalculate(r.Context(), businessID, userFrom(r.Context()), force)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credit.View(score))
}

// CreditHistory lists the caller's score history.
func (h *Handler) CreditHistory(w http.ResponseWriter, r *http.Request) {
	businessID, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, err := optionalInt(r, "limit", 10)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	scores, err := h.credit.History(r.Context(), businessID, userFrom(r.Context()), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credit.Views(scores))
}

// CalculateAll rescores every business of the caller.
func (h *Handler) CalculateAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.credit.CalculateAll(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Calculated scores for %d businesses", len(results)),
		"results": results,
	})
}

// LenderProfile serves the lender view of a business.
func (h *Handler) LenderProfile(w http.ResponseWriter, r *http.Request) {
	businessID, ok := pathID(w, r)
	if !ok {
		return
	}
	profile, err := h.credit.LenderProfileLatest(r.Context(), businessID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// LenderBusinesses lists scored businesses for lenders.
func (h *Handler) LenderBusinesses(w http.ResponseWriter, r *http.Request) {
	var filter credit.ListFilter
	var err error
	if filter.MinScore, err = optionalInt(r, "min_score", 0); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if filter.MaxScore, err = optionalInt(r, "max_score", 0); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if filter.Limit, err = optionalInt(r, "limit", 100); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if level := r.URL.Query().Get("risk_level"); level != "" {
		if filter.RiskLevel, err = credit.ParseLenderRiskLevel(level); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	businesses, err := h.credit.ListScoredBusinesses(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":      len(businesses),
		"businesses": businesses,
	})
}

// ownedBusiness resolves the path business and checks the caller owns it.
func (h *Handler) ownedBusiness(w http.ResponseWriter, r *http.Request) (int64, bool) {
	businessID, ok := pathID(w, r)
	if !ok {
		return 0, false
	}
	business, err := h.reader.FetchBusiness(r.Context(), businessID)
	if err != nil {
		h.writeError(w, err)
		return 0, false
	}
	if business.OwnerID != userFrom(r.Context()) {
		writeDetail(w, http.StatusNotFound, msgBusinessNotFound)
		return 0, false
	}
	return businessID, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, forecast.ErrInsufficientData):
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
	case errors.Is(err, credit.ErrNoScore):
		writeDetail(w, http.StatusNotFound, msgNoScore)
	case errors.Is(err, storage.ErrNotFound):
		writeDetail(w, http.StatusNotFound, msgBusinessNotFound)
	default:
		h.logger.Error().Err(err).Msg("request failed")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["business_id"], 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "business_id must be an integer")
		return 0, false
	}
	return id, true
}

func optionalInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func optionalBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return v, nil
}
