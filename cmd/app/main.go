// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"taskstream/internal/config"
	"taskstream/internal/infra/api"
	"taskstream/internal/infra/logging"
	"taskstream/internal/infra/metrics"
	"taskstream/internal/infra/sched"
	"taskstream/internal/infra/worker"
	"taskstream/internal/tokens"
	"taskstream/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, debug level)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("taskstream stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	deps, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	counter := tokens.NewCounter()
	reconciler := usecase.NewStatusReconciler(deps.records, deps.upstream, counter, logger)
	tasks := usecase.NewTaskUseCase(deps.records, deps.upstream, reconciler, cfg.Upstream.DefaultModel, cfg.Stream.CheckpointEvery, logger)
	resumer := usecase.NewResumeCoordinator(deps.records, reconciler, deps.limiter, usecase.ResumeConfig{
		PollInterval:    cfg.Resume.PollInterval,
		MaxPollDuration: cfg.Resume.MaxPollDuration,
		RateLimit:       cfg.Resume.RateLimit,
		RateWindow:      cfg.Resume.RateWindow,
	}, logger)
	canceller := usecase.NewCancelCoordinator(deps.records, deps.upstream, deps.locker, logger)

	auth := api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
	srv := api.NewServer(tasks, resumer, canceller, auth, api.Options{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		KeepAlive:      cfg.HTTP.KeepAlive,
	}, logger)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Str("store", cfg.Store.Driver).
			Str("upstream", cfg.Upstream.Provider).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	})

	if cfg.Sweep.Interval > 0 {
		pool := worker.NewPool(cfg.Sweep.Workers, logger)
		pool.Start(gctx)
		sweeper := sched.NewTaskSweeper(deps.records, reconciler, pool, cfg.Sweep.Interval, cfg.Sweep.Batch, logger)
		g.Go(func() error {
			defer pool.Stop()
			if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if deps.poolStats != nil {
		g.Go(func() error {
			deps.poolStats(gctx)
			return nil
		})
	}

	return g.Wait()
}
