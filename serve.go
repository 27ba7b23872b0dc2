package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"prism-todo/api"
	"prism-todo/events"
	"prism-todo/offline"
)

const (
	shutdownTimeout = 10 * time.Second
	// The overdue filter depends on the clock, so the view is refreshed periodically.
	refreshInterval = time.Minute
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API and the offline worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	rt, err := openRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	app, err := rt.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	bus := events.NewBus[events.WorkerEvent]()
	defer bus.Close()
	pub, bridge := rt.publisher(bus)
	if bridge != nil {
		go bridge.Run(ctx)
	}

	var deduper api.Deduper = api.NewMemoryDeduper(rt.cfg.IdempotencyTTL)
	if rt.redis != nil {
		deduper = api.NewRedisDeduper(rt.redis, rt.cfg.IdempotencyTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, offline.ClientIDHeader, api.IdempotencyHeader},
	}))
	e.Use(api.RequestLogger(logger))

	srv := api.Register(e, app, logger, api.Options{
		WorkerEvents:   bus,
		Deduper:        deduper,
		SearchDebounce: rt.cfg.SearchDebounce,
	})
	defer srv.Close()
	if rt.cfg.Debug {
		pprof.Register(e)
	}

	worker, err := rt.newWorker(rt.cacheStorage(), pub)
	switch {
	case errors.Is(err, errNoUpstream):
		logger.Info("no upstream configured, offline worker disabled")
	case err != nil:
		return err
	default:
		defer worker.Close()
		e.Any("/*", offline.Handler(worker))
		go func() {
			report, err := worker.Install(ctx)
			entry := logger.WithField("cache", report.Cache).WithField("cached", len(report.Cached)).WithField("failed", len(report.Failed))
			if err != nil {
				entry.WithError(err).Error("worker install")
				return
			}
			entry.Info("worker activated")
		}()
	}

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				app.Tasks.Refresh()
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", rt.cfg.ListenAddr).Info("listening")
		errCh <- e.Start(rt.cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Streams only end when their subscriptions close.
	app.Close()
	bus.Close()
	return e.Shutdown(shutdownCtx)
}
