package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"escrowkit/services/auth"
)

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Service) == "" {
		return fmt.Errorf("service name required")
	}
	if _, err := cfg.APIURL(); err != nil {
		return fmt.Errorf("api.baseURL: %w", err)
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if cfg.API.RatePerSecond < 0 || cfg.API.Burst < 0 {
		return fmt.Errorf("api.ratePerSecond and api.burst must not be negative")
	}
	minimum, err := cfg.MinAmount()
	if err != nil {
		return err
	}
	if !minimum.IsPositive() {
		return fmt.Errorf("escrow.minAmount must be positive")
	}
	for i, id := range cfg.Escrow.ResolverIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("escrow.resolverIds[%d] cannot be empty", i)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sampleRatio must be within [0,1]")
	}
	switch cfg.Security.StoreBackend {
	case StoreBackendLevelDB, StoreBackendBolt:
	default:
		return fmt.Errorf("security.storeBackend must be %s or %s", StoreBackendLevelDB, StoreBackendBolt)
	}
	if cfg.Sandbox.AuthRequestsPerMinute < 0 || cfg.Sandbox.AuthBurst < 0 {
		return fmt.Errorf("sandbox.authRequestsPerMinute and sandbox.authBurst must not be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Sandbox.Users))
	for i, user := range cfg.Sandbox.Users {
		id := strings.TrimSpace(user.ID)
		if id == "" {
			return fmt.Errorf("sandbox.users[%d].id cannot be empty", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("sandbox.users[%d]: duplicate id %s", i, id)
		}
		seen[id] = struct{}{}
		for _, pin := range []string{user.PIN, user.LoginPIN} {
			if pin != "" && auth.ValidatePIN(pin) != nil {
				return fmt.Errorf("sandbox.users[%d]: pins must be 6 digits", i)
			}
		}
	}
	return nil
}

// MinAmount parses escrow.minAmount.
func (cfg Config) MinAmount() (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(cfg.Escrow.MinAmount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("escrow.minAmount: %w", err)
	}
	return value, nil
}

// APIURL returns the backend base URL after scheme enforcement.
func (cfg Config) APIURL() (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.API.BaseURL))
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	out, _, err := EnforceSecureScheme(cfg.Env, parsed, cfg.API.AutoUpgradeHTTP)
	return out, err
}

// EnforceSecureScheme ensures the supplied URL uses HTTPS outside of the dev environment.
// If autoUpgrade is enabled, insecure HTTP URLs are transparently upgraded to HTTPS.
// The returned boolean indicates whether an upgrade occurred.
func EnforceSecureScheme(env string, target *url.URL, autoUpgrade bool) (*url.URL, bool, error) {
	if target == nil {
		return nil, false, fmt.Errorf("target URL is nil")
	}
	switch strings.ToLower(strings.TrimSpace(target.Scheme)) {
	case "https":
		return target, false, nil
	case "http":
		if isDevEnv(env) {
			return target, false, nil
		}
		if autoUpgrade {
			upgraded := *target
			upgraded.Scheme = "https"
			return &upgraded, true, nil
		}
		if strings.TrimSpace(env) == "" {
			env = "(unset)"
		}
		return nil, false, fmt.Errorf("plaintext HTTP endpoints are not permitted for environment %s", env)
	case "":
		return nil, false, fmt.Errorf("URL scheme is required")
	default:
		return nil, false, fmt.Errorf("unsupported URL scheme %q", target.Scheme)
	}
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "test", "sandbox":
		return true
	}
	return false
}
