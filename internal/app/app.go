// Package app wires configuration, storage and services behind the CLI commands.
package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"smartpesa/internal/alerting"
	"smartpesa/internal/config"
	"smartpesa/internal/credit"
	"smartpesa/internal/forecast"
	"smartpesa/internal/model"
	"smartpesa/internal/observability"
	"smartpesa/internal/service"
	"smartpesa/internal/storage"
)

// Backend is the storage surface the application needs.
type Backend interface {
	storage.RecordReader
	storage.RecordWriter
	storage.CreditScoreStore
	storage.RiskAlertStore
}

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	store Backend
	now   func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		now:    time.Now,
	}
}

// WithStore pins the backend used by every command instead of opening one from config.
func (a *App) WithStore(store Backend) *App {
	a.store = store
	return a
}

// components are the services built over one backend.
type components struct {
	metrics   *observability.Metrics
	forecasts *forecast.Service
	engine    *credit.Engine
	credit    *credit.Service
}

func (a *App) components(store Backend) *components {
	metrics := observability.NewMetrics(a.Config.Metrics.Namespace)
	engine := credit.NewEngine(store, a.Config.Credit.Validity, a.now, a.Logger)
	return &components{
		metrics:   metrics,
		forecasts: forecast.NewService(a.forecastConfig(), store, metrics, a.now, a.Logger),
		engine:    engine,
		credit:    credit.NewService(engine, store, metrics, a.Config.Credit.Workers, a.Logger),
	}
}

func (a *App) forecastConfig() forecast.Config {
	fc := a.Config.Forecast
	cfg := forecast.DefaultConfig()
	cfg.HistoryDays = fc.HistoryDays
	cfg.MinDays = fc.MinDays
	cfg.Extended = fc.Extended

	cfg.Trend = model.DefaultTrendConfig()
	cfg.Trend.ChangepointPriorScale = fc.ChangepointPriorScale
	cfg.Trend.IntervalWidth = fc.IntervalWidth
	cfg.Trend.UncertaintySamples = fc.UncertaintySamples
	cfg.Trend.Seed = uint64(fc.Seed)

	cfg.Forest = model.ForestConfig{Trees: fc.Trees, MaxDepth: fc.MaxDepth, Seed: uint64(fc.Seed)}
	return cfg
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newMonitor(store Backend, c *components) *service.Service {
	return service.New(a.Config, c.forecasts, store, store, c.credit, a.newNotifier(), c.metrics, a.Logger)
}

// openStore returns the pinned backend, a PostgreSQL store when a DSN is configured, or
// a fresh in-memory store that is pinned for the rest of the process.
func (a *App) openStore(ctx context.Context) (Backend, func(), error) {
	noop := func() {}
	if a.store != nil {
		return a.store, noop, nil
	}
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		a.store = storage.NewMemoryStore()
		return a.store, noop, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if a.Config.Database.AutoMigrate {
		applied, err := storage.ApplyMigrations(ctx, pool, a.Config.Database.MigrationsPath)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		a.Logger.Info().Int("applied", applied).Msg("migrations applied")
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

// ServeOptions configure the HTTP service.
type ServeOptions struct {
	Demo bool
}

// ExportOptions hold parameters for exporting history and forecast.
type ExportOptions struct {
	BusinessID int64
	Days       int
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	BusinessID int64
	UserID     int64
	Limit      int
}

// RescoreOptions configure batch rescoring.
type RescoreOptions struct {
	UserID int64
	Stale  bool
}

// SeedOptions configure synthetic data generation.
type SeedOptions struct {
	BusinessID int64
	OwnerID    int64
	Name       string
	OwnerEmail string
	Days       int
	Seed       uint64
	Inventory  bool
}
