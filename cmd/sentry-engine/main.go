package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-sentry/internal/cache"
	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/incidents"
	"github.com/miradorstack/mirador-sentry/internal/metrics"
	"github.com/miradorstack/mirador-sentry/internal/remediation"
	"github.com/miradorstack/mirador-sentry/internal/repo"
	"github.com/miradorstack/mirador-sentry/internal/rightsizing"
	"github.com/miradorstack/mirador-sentry/internal/runner"
	"github.com/miradorstack/mirador-sentry/internal/scheduler"
	"github.com/miradorstack/mirador-sentry/internal/services"
	"github.com/miradorstack/mirador-sentry/internal/store"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-sentry", slog.String("pipeline", cfg.Pipeline.BaseURL))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := store.Open(store.Config{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to open store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	if cfg.Store.Seed {
		seeded, err := st.SeedDefaultChecks()
		if err != nil {
			logger.Error("failed to seed default checks", slog.Any("error", err))
			os.Exit(1)
		}
		if seeded > 0 {
			logger.Info("default checks installed", slog.Int("count", seeded))
		}
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	pipelineClient := repo.NewPipelineClient(
		cfg.Pipeline.BaseURL,
		cfg.Pipeline.InferPath,
		cfg.Pipeline.GoldenPath,
		cfg.Pipeline.ResourcePath,
		cfg.Pipeline.DistributionPath,
		cfg.Pipeline.AdminPath,
		cfg.Pipeline.Timeout,
	)

	incidentMgr := incidents.NewManager(st, cfg.Incidents, logger)
	checkRunner := runner.New(st, pipelineClient, incidentMgr, cfg.Checks, logger)

	actions := remediation.NewPipelineActions(pipelineClient, cfg.Remediation)
	remediationEngine := remediation.NewEngine(incidentMgr, actions, cfg.Remediation, logger)

	catalog, err := rightsizing.LoadCatalog(cfg.Rightsizing.CatalogPath)
	if err != nil {
		logger.Error("failed to load instance catalog", slog.Any("error", err))
		os.Exit(1)
	}
	rightsizingEngine := rightsizing.NewEngine(st, catalog, cfg.Rightsizing, logger)

	sentryService := services.NewSentryService(
		logger,
		checkRunner,
		incidentMgr,
		remediationEngine,
		rightsizingEngine,
		cacheProvider,
		cfg.Rightsizing.ReportCacheTTL,
	)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One sweep up front so a broken pipeline surfaces immediately instead
	// of waiting out the first scheduler interval.
	go func() {
		result, err := sentryService.RunAllChecks(ctx)
		if err != nil {
			logger.Error("initial check sweep failed", slog.Any("error", err))
			return
		}
		logger.Info("initial check sweep finished",
			slog.Int("total", result.Total),
			slog.Int("passed", result.Passed),
			slog.Int("failed", result.Failed),
			slog.Int("errored", result.Errored))
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	sched := scheduler.New(st, checkRunner, cfg.Checks, logger)
	schedDone := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(schedDone)
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	select {
	case <-schedDone:
	case <-time.After(cfg.Server.GracefulTimeout):
		logger.Warn("scheduler did not stop within graceful timeout")
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("mirador-sentry stopped")
}
