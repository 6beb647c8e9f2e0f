package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"smartpesa/internal/credit"
	"smartpesa/internal/forecast"
)

// ForecastOptions select the business and horizon of a CLI forecast.
type ForecastOptions struct {
	BusinessID int64
	Days       int
}

// Forecast prints the hybrid forecast bundle as JSON.
func (a *App) Forecast(ctx context.Context, opts ForecastOptions) error {
	return a.withComponents(ctx, func(c *components) (any, error) {
		return c.forecasts.GenerateForecast(ctx, opts.BusinessID, opts.Days)
	})
}

// Risk prints the 30-day risk alert as JSON.
func (a *App) Risk(ctx context.Context, businessID int64) error {
	return a.withComponents(ctx, func(c *components) (any, error) {
		return c.forecasts.GetRiskAlert(ctx, businessID)
	})
}

// Health prints forecast readiness as JSON.
func (a *App) Health(ctx context.Context, businessID int64) error {
	return a.withComponents(ctx, func(c *components) (any, error) {
		return c.forecasts.Readiness(ctx, businessID)
	})
}

// ScoreOptions configure the score command.
type ScoreOptions struct {
	BusinessID int64
	Force      bool
}

// Score prints the current credit score of a business on behalf of its owner.
func (a *App) Score(ctx context.Context, opts ScoreOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	business, err := store.FetchBusiness(ctx, opts.BusinessID)
	if err != nil {
		return err
	}
	score, reused, err := a.components(store).credit.GetOrCalculate(ctx, business.ID, business.OwnerID, opts.Force)
	if err != nil {
		return err
	}
	a.Logger.Debug().Bool("reused", reused).Int("score", score.Score).Msg("credit score resolved")
	return a.printJSON(credit.View(score))
}

// Lender prints the lender profile built from the latest valid score.
func (a *App) Lender(ctx context.Context, businessID int64) error {
	return a.withComponents(ctx, func(c *components) (any, error) {
		return c.credit.LenderProfileLatest(ctx, businessID)
	})
}

func (a *App) withComponents(ctx context.Context, fn func(c *components) (any, error)) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	v, err := fn(a.components(store))
	if errors.Is(err, forecast.ErrInsufficientData) {
		return a.printJSON(map[string]string{"error": err.Error()})
	}
	if err != nil {
		return err
	}
	return a.printJSON(v)
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
