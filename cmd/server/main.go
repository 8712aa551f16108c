package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JonMunkholm/enrolment/internal/analytics"
	"github.com/JonMunkholm/enrolment/internal/cache"
	"github.com/JonMunkholm/enrolment/internal/config"
	"github.com/JonMunkholm/enrolment/internal/core"
	"github.com/JonMunkholm/enrolment/internal/logging"
	"github.com/JonMunkholm/enrolment/internal/metrics"
	"github.com/JonMunkholm/enrolment/internal/store"
	"github.com/JonMunkholm/enrolment/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging).With("service", cfg.Telemetry.ServiceName)
	slog.SetDefault(logger)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"cache_enabled", cfg.Cache.RedisURL != "",
	)
	slog.Debug("configuration", "config", cfg.String())

	ctx := context.Background()

	snapshots, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open snapshot store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reportCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		slog.Error("failed to connect to report cache", "error", err)
		os.Exit(1)
	}
	defer reportCache.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	service := core.NewService(snapshots, cfg.Upload,
		core.WithMetrics(m),
		core.WithInvalidator(reportCache),
	)
	engine := analytics.NewEngine(snapshots, analytics.WithMetrics(m))
	reports := cache.NewReports(engine, reportCache, m)

	opts := []web.Option{web.WithMetrics(m, reg)}
	if reportCache != nil {
		opts = append(opts, web.WithHealthCheck("cache", reportCache.Health))
	}
	server := web.NewServer(service, reports, cfg, opts...)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active uploads to complete (with timeout)
		uploadStatus := service.UploadLimiterStatus()
		if uploadStatus.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", uploadStatus.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// openStore returns the configured snapshot store and its cleanup func.
func openStore(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	if cfg.Store.Driver == config.DriverMemory {
		slog.Warn("using in-memory snapshot store, uploads are lost on restart")
		return store.NewMemory(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	pg := store.NewPostgres(pool)
	if cfg.Database.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("snapshot tables ready")
	}
	return pg, pool.Close, nil
}
