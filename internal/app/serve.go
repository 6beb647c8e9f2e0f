package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"smartpesa/internal/api"
	"smartpesa/internal/scheduler"
	"smartpesa/internal/service"
)

// Serve starts the HTTP API and, when enabled, the background scheduler. It blocks until
// the context is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Demo {
		if err := a.seedDemo(ctx, store); err != nil {
			return err
		}
	}

	c := a.components(store)
	handler := api.NewHandler(c.forecasts, c.credit, store, a.Logger)
	routerOpts := api.RouterOptions{AllowedOrigins: a.Config.Server.AllowedOrigins}
	if a.Config.Metrics.Enabled {
		routerOpts.Metrics = c.metrics.Handler()
		routerOpts.Recorder = c.metrics
	}
	srv := api.NewHTTPServer(a.Config.Server, api.NewRouter(handler, routerOpts))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.Config.Server.ShutdownTimeout)
		defer cancel()
		a.Logger.Info().Msg("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	if a.Config.Scheduler.Enabled {
		sched, err := a.newScheduler(a.newMonitor(store, c), c)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		a.Logger.Info().Msg("scheduler disabled")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	a.Logger.Info().Msg("service stopped")
	return nil
}

func (a *App) newScheduler(monitor *service.Service, c *components) (*scheduler.Scheduler, error) {
	sched := scheduler.New(nil, c.metrics, a.Logger)
	if err := sched.Add(service.JobRiskScan, a.Config.Scheduler.RiskScan, func(ctx context.Context) error {
		_, err := monitor.ScanRisk(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := sched.Add(service.JobScoreRefresh, a.Config.Scheduler.ScoreRefresh, func(ctx context.Context) error {
		_, err := monitor.RefreshScores(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	a.Logger.Info().Strs("jobs", sched.Jobs()).Msg("scheduler configured")
	return sched, nil
}
