package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type lookupFunc func(string) (string, bool)

func (cfg *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []string
	parse := func(name string, apply func(string) error) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		if err := apply(strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
		}
	}

	str("ENV", &cfg.Env)
	str("API_BASE_URL", &cfg.API.BaseURL)
	parse("API_TIMEOUT", func(v string) error {
		d, err := time.ParseDuration(v)
		cfg.API.Timeout = d
		return err
	})
	parse("API_RATE_PER_SECOND", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		cfg.API.RatePerSecond = f
		return err
	})
	str("ESCROW_MIN_AMOUNT", &cfg.Escrow.MinAmount)
	parse("ESCROW_RESOLVER_IDS", func(v string) error {
		cfg.Escrow.ResolverIDs = splitList(v)
		return nil
	})
	str("STORE_PATH", &cfg.Security.StorePath)
	str("STORE_BACKEND", &cfg.Security.StoreBackend)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FILE", &cfg.Logging.File)
	str("OTEL_ENDPOINT", &cfg.Telemetry.Endpoint)
	parse("OTEL_TRACES", func(v string) error {
		b, err := strconv.ParseBool(v)
		cfg.Telemetry.Traces = b
		return err
	})
	parse("OTEL_METRICS", func(v string) error {
		b, err := strconv.ParseBool(v)
		cfg.Telemetry.Metrics = b
		return err
	})
	str("METRICS_LISTEN", &cfg.Telemetry.MetricsListen)
	str("SANDBOX_LISTEN", &cfg.Sandbox.Listen)
	str("SANDBOX_DATABASE", &cfg.Sandbox.DatabasePath)
	str("SANDBOX_TOKEN_SECRET", &cfg.Sandbox.TokenSecret)
	parse("SANDBOX_AUTH_RPM", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		cfg.Sandbox.AuthRequestsPerMinute = f
		return err
	})

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
