package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goRedis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/hms-gateway/api/handler"
	"github.com/fastygo/hms-gateway/internal/config"
	"github.com/fastygo/hms-gateway/internal/infrastructure/authority"
	"github.com/fastygo/hms-gateway/internal/infrastructure/buffer"
	"github.com/fastygo/hms-gateway/internal/infrastructure/metrics"
	"github.com/fastygo/hms-gateway/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/hms-gateway/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/hms-gateway/internal/infrastructure/redis"
	"github.com/fastygo/hms-gateway/internal/middleware"
	"github.com/fastygo/hms-gateway/internal/proxy"
	"github.com/fastygo/hms-gateway/internal/router"
	"github.com/fastygo/hms-gateway/internal/services"
	"github.com/fastygo/hms-gateway/internal/services/lifecycle"
	"github.com/fastygo/hms-gateway/pkg/httpcontext"
	"github.com/fastygo/hms-gateway/repository"
	"github.com/fastygo/hms-gateway/repository/memory"
	"github.com/fastygo/hms-gateway/repository/postgres"
	redisRepo "github.com/fastygo/hms-gateway/repository/redis"
	auditUC "github.com/fastygo/hms-gateway/usecase/audit"
	authUC "github.com/fastygo/hms-gateway/usecase/auth"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session gateway (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, zapLogger, err := bootstrap()
			if err != nil {
				return err
			}
			defer zapLogger.Sync()
			return runServer(cmd.Context(), cfg, zapLogger)
		},
	}
}

func runServer(parent context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	appCtx, stop := manager.SignalContext(parent)
	defer stop()

	if err := serve(appCtx, cfg, manager, zapLogger); err != nil {
		shutdownErr := manager.Shutdown(context.Background())
		return errors.Join(err, shutdownErr)
	}
	return manager.Shutdown(context.Background())
}

// serve wires every component, registers its shutdown hook and blocks until
// appCtx is cancelled or the HTTP server fails.
func serve(appCtx context.Context, cfg *config.Config, manager *lifecycle.Manager, zapLogger *zap.Logger) error {
	gatewayMetrics := metrics.New()

	var pool *pgxpool.Pool
	if cfg.NeedsDatabase() {
		if cfg.Migrations.Enabled {
			if err := pgInfra.RunMigrations(cfg.Database, cfg.Migrations, pgInfra.Up, 0, zapLogger); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
		}
		var err error
		pool, err = pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
		if err != nil {
			return fmt.Errorf("postgres connection failed: %w", err)
		}
		manager.RegisterCloser("postgres", func() error {
			pool.Close()
			return nil
		})
	}

	var redisClient *goRedis.Client
	if cfg.NeedsRedis() {
		var err error
		redisClient, err = redisInfra.NewClient(appCtx, cfg.Redis, zapLogger)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		manager.RegisterCloser("redis", redisClient.Close)
	}

	deps := monitor.Dependencies{}
	if pool != nil {
		deps.Postgres = pool
	}
	if redisClient != nil {
		deps.Redis = monitor.RedisPinger(redisClient)
	}

	var outbox *buffer.Store
	if cfg.Audit.Enabled {
		var err error
		outbox, err = buffer.Open(cfg.Audit.BufferPath)
		if err != nil {
			return fmt.Errorf("open audit outbox: %w", err)
		}
		manager.RegisterCloser("audit_outbox", outbox.Close)
		deps.Outbox = outbox
	}

	mon := monitor.New(deps, 10*time.Second, zapLogger)
	mon.Start()
	manager.RegisterCloser("monitor", func() error {
		mon.Stop()
		return nil
	})

	cache, err := newVerdictCache(cfg, redisClient, manager, zapLogger)
	if err != nil {
		return err
	}

	authorityClient, err := authority.New(cfg.Authority.URL, cfg.Authority.Timeout)
	if err != nil {
		return fmt.Errorf("authority client: %w", err)
	}
	verifier := authUC.NewVerifier(authorityClient, cache, gatewayMetrics, zapLogger)

	// In-flight verifications are cancelled only after the HTTP server has drained.
	requestBase, cancelRequests := context.WithCancel(context.Background())
	manager.RegisterCloser("request_context", func() error {
		cancelRequests()
		return nil
	})
	adapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout).WithBase(requestBase)

	gatewayOpts := []middleware.GatewayOption{
		middleware.WithAdapter(adapter),
		middleware.WithObserver(gatewayMetrics),
	}

	var profiles repository.ProfileRepository
	if pool != nil {
		profiles = postgres.NewProfileRepository(pool)
	}
	if cfg.PasswordPolicy.Enabled {
		gatewayOpts = append(gatewayOpts, middleware.WithPasswordPolicy(authUC.NewPasswordPolicy(profiles, zapLogger)))
	}

	var adminHandler *apiHandler.AdminHandler
	if cfg.Audit.Enabled {
		events := postgres.NewAuditRepository(pool)
		processor := services.NewAuditProcessor(outbox, mon, events, gatewayMetrics, zapLogger, services.ProcessorConfig{
			Interval:   cfg.Audit.SyncInterval,
			BatchSize:  cfg.Audit.BatchSize,
			MaxRetries: cfg.Audit.MaxRetry,
			Retention:  cfg.Audit.Retention,
		})
		processor.Start()
		manager.Register("audit_processor", processor.Stop)

		recorder := auditUC.New(processor, cfg.Audit.QueueSize, gatewayMetrics, zapLogger)
		recorder.Start()
		manager.Register("audit_queue", recorder.Close)

		gatewayOpts = append(gatewayOpts, middleware.WithRecorder(recorder))
		adminHandler = apiHandler.NewAdminHandler(events, profiles, adapter, zapLogger)
	}

	gateway := middleware.NewGateway(
		middleware.SessionOptionsFromConfig(cfg.Gateway, cfg.PasswordPolicy),
		middleware.NewClassifier(cfg.Gateway.PublicPaths, cfg.Gateway.PublicPrefixes),
		verifier,
		zapLogger,
		gatewayOpts...,
	)

	forwarder, err := proxy.New(cfg.Gateway.Upstreams, cfg.Gateway.UpstreamTimeout, gatewayMetrics, zapLogger)
	if err != nil {
		return fmt.Errorf("upstreams: %w", err)
	}

	handlers := router.Handlers{
		Health:    apiHandler.NewHealthHandler(mon, version, adapter, zapLogger),
		Logout:    apiHandler.NewLogoutHandler(gateway),
		Admin:     adminHandler,
		Proxy:     forwarder,
		APIPrefix: cfg.Gateway.APIPrefix,
	}
	if cfg.HTTP.EnableMetrics && cfg.HTTP.MetricsAddress == "" {
		handlers.Metrics = gatewayMetrics.Handler()
	}
	if forwarder.Has(proxy.UIService) {
		handlers.Fallback = forwarder.To(proxy.UIService)
	}
	r := router.New(handlers)

	server := &fasthttp.Server{
		Handler:      gateway.Wrap(r.Handler),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	serverErr := make(chan error, 2)
	if cfg.HTTP.EnableMetrics && cfg.HTTP.MetricsAddress != "" {
		metricsServer := &fasthttp.Server{
			Handler:     metricsOnly(gatewayMetrics.Handler()),
			ReadTimeout: cfg.HTTP.ReadTimeout,
			Name:        cfg.AppName + "-metrics",
		}
		go func() {
			zapLogger.Info("metrics listener started", zap.String("address", cfg.HTTP.MetricsAddress))
			if err := metricsServer.ListenAndServe(cfg.HTTP.MetricsAddress); err != nil {
				serverErr <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
		manager.Register("metrics_server", metricsServer.ShutdownWithContext)
	}

	go func() {
		zapLogger.Info("server started",
			zap.String("address", cfg.Address()),
			zap.String("authority", cfg.Authority.URL),
			zap.String("cache", cfg.TokenCache.Backend),
			zap.Strings("upstreams", forwarder.Services()))
		serverErr <- server.ListenAndServe(cfg.Address())
	}()
	manager.Register("http_server", server.ShutdownWithContext)

	select {
	case <-appCtx.Done():
		return nil
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server crashed: %w", err)
		}
		return nil
	}
}

func metricsOnly(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/metrics" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		next(ctx)
	}
}

func newVerdictCache(cfg *config.Config, redisClient *goRedis.Client, manager *lifecycle.Manager, zapLogger *zap.Logger) (repository.VerdictCache, error) {
	if cfg.TokenCache.Backend == config.CacheBackendRedis {
		return redisRepo.NewVerdictCache(redisClient, time.Now), nil
	}

	cache, err := memory.NewVerdictCache(cfg.TokenCache.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("verdict cache: %w", err)
	}
	janitor := services.NewCacheJanitor(cache, cfg.TokenCache.SweepInterval, zapLogger)
	janitor.Start()
	manager.Register("cache_janitor", janitor.Stop)
	return cache, nil
}
