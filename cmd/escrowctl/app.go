package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"escrowkit/cmd/internal/passphrase"
	"escrowkit/config"
	"escrowkit/gateway/biometric"
	"escrowkit/gateway/pin"
	model "escrowkit/native/escrow"
	"escrowkit/notify"
	"escrowkit/observability/logging"
	"escrowkit/observability/metrics"
	"escrowkit/observability/otel"
	"escrowkit/services/auth"
	escrowsvc "escrowkit/services/escrow"
	"escrowkit/storage/escrowcache"
	"escrowkit/storage/securestore"
	"escrowkit/transport"
)

type appIO struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	verbose bool
}

// app holds the wired client stack for one CLI invocation.
type app struct {
	appIO
	cfg     config.Config
	logger  *slog.Logger
	prefs   *securestore.Preferences
	escrows *escrowsvc.Service
	auth    *auth.Client
	gate    *pin.Gateway
	bridge  *biometric.Bridge
	haptics notify.Haptics

	closers []func() error
}

func buildApp(cfg config.Config, streams appIO) (*app, error) {
	streams.stdin = lineInput(streams.stdin)
	a := &app{appIO: streams, cfg: cfg}
	opts := logging.Options{
		Service:    cfg.Service + "-cli",
		Env:        cfg.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}
	switch {
	case cfg.Logging.File != "":
		logger, closer := logging.Setup(opts)
		a.logger = logger
		a.closers = append(a.closers, closer.Close)
	case streams.verbose:
		a.logger = logging.New(streams.stderr, opts)
	default:
		a.logger = logging.Discard()
	}

	shutdown, err := otel.Init(context.Background(), otel.Config{
		ServiceName: cfg.Service + "-cli",
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	var store securestore.Store = securestore.NewMemoryStore()
	if cfg.Security.StorePath != "" {
		pass, err := passphrase.NewSource(cfg.Security.PassphraseEnv).Get()
		if err != nil {
			a.Close()
			return nil, err
		}
		opened, closeStore, err := openSecureStore(cfg.Security, pass)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open secure store: %w", err)
		}
		a.closers = append(a.closers, closeStore)
		store = opened
	}
	a.prefs = securestore.NewPreferences(store)

	apiURL, err := cfg.APIURL()
	if err != nil {
		a.Close()
		return nil, err
	}
	clientMetrics := metrics.Client()
	api, err := transport.New(transport.Options{
		BaseURL:       apiURL.String(),
		Timeout:       cfg.API.Timeout,
		RatePerSecond: cfg.API.RatePerSecond,
		Burst:         cfg.API.Burst,
		Metrics:       clientMetrics,
		Logger:        a.logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	minimum, err := cfg.MinAmount()
	if err != nil {
		a.Close()
		return nil, err
	}

	notifier := notify.Func(func(_ context.Context, n notify.Notice) {
		fmt.Fprintf(streams.stderr, "%s: %s\n", n.Title, n.Message)
	})
	a.haptics = notify.BellHaptics{W: streams.stderr}
	a.auth = auth.NewClient(api)
	a.escrows = escrowsvc.New(api, escrowcache.New(), notifier, escrowsvc.Options{
		Machine:   model.NewMachine(cfg.Escrow.ResolverIDs...),
		MinAmount: minimum,
		Metrics:   clientMetrics,
		Logger:    a.logger,
		Now:       cliNow,
	})
	a.gate = pin.New(a.auth, pin.Options{Haptics: a.haptics, Metrics: clientMetrics, Logger: a.logger})
	a.bridge = biometric.NewBridge(biometric.SimulatedSensor{}, a.auth, a.prefs, notifier,
		biometric.Options{Metrics: clientMetrics, Logger: a.logger})
	if err := a.bridge.Load(context.Background()); err != nil {
		a.logger.Warn("load biometric state", slog.Any("error", err))
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown", slog.Any("error", err))
		}
	}
	a.closers = nil
}

func openSecureStore(sec config.SecurityConfig, pass string) (securestore.Store, func() error, error) {
	if sec.StoreBackend == config.StoreBackendBolt {
		db, err := securestore.OpenBolt(sec.StorePath, pass, nil)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
	db, err := securestore.OpenLevelDB(sec.StorePath, pass)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}
