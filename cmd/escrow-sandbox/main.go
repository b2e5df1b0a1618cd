package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"escrowkit/config"
	"escrowkit/observability/logging"
	"escrowkit/observability/otel"
	"escrowkit/services/sandbox"
	"escrowkit/services/sandbox/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", os.Getenv("ESCROWKIT_CONFIG"), "path to configuration file (YAML or TOML)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, closer := logging.Setup(logging.Options{
		Service:    cfg.Service + "-sandbox",
		Env:        cfg.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer closer.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("sandbox stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := otel.Init(context.Background(), otel.Config{
		ServiceName: cfg.Service + "-sandbox",
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	handler, obs, err := buildHandler(cfg, logger)
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              cfg.Sandbox.Listen,
		Handler:           otelhttp.NewHandler(handler, "escrow-sandbox"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
	if cfg.Telemetry.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", obs.MetricsHandler())
		servers = append(servers, &http.Server{
			Addr:              cfg.Telemetry.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var runErr error
	select {
	case <-sig:
		logger.Info("shutting down")
	case runErr = <-errCh:
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
	return runErr
}

// buildHandler opens the ledger, seeds the configured users and returns the
// sandbox router together with its metrics collector.
func buildHandler(cfg config.Config, logger *slog.Logger) (http.Handler, *middleware.Observability, error) {
	dsn := cfg.Sandbox.DatabasePath
	if dsn == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		logger.Warn("sandbox ledger is in memory and will not survive restarts")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := sandbox.AutoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	secret := cfg.Sandbox.TokenSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("no sandbox token secret configured; biometric tokens will not survive restarts")
	}
	minimum, err := cfg.MinAmount()
	if err != nil {
		return nil, nil, err
	}
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: cfg.Service + "-sandbox",
		LogRequests: cfg.Logging.Level == "debug",
	}, logger)
	srv, err := sandbox.New(sandbox.Config{
		DB:            db,
		Resolvers:     cfg.Escrow.ResolverIDs,
		MinAmount:     minimum,
		TokenSecret:   secret,
		TokenTTL:      cfg.Sandbox.TokenTTL,
		Logger:        logger,
		Observability: obs,
		AuthLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.Sandbox.AuthRequestsPerMinute,
			Burst:             cfg.Sandbox.AuthBurst,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	if err := srv.Seed(context.Background(), seedUsers(cfg.Sandbox.Users)); err != nil {
		return nil, nil, err
	}
	return srv.Handler(), obs, nil
}

func seedUsers(users []config.SandboxUser) []sandbox.SeedUser {
	out := make([]sandbox.SeedUser, 0, len(users))
	for _, u := range users {
		out = append(out, sandbox.SeedUser{
			ID:       u.ID,
			FullName: u.FullName,
			Username: u.Username,
			TxPIN:    u.PIN,
			LoginPIN: u.LoginPIN,
		})
	}
	return out
}
