package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "escrowkit", cfg.Service)
	require.Equal(t, []string{"support"}, cfg.Escrow.ResolverIDs)
	minimum, err := cfg.MinAmount()
	require.NoError(t, err)
	require.Equal(t, "100", minimum.String())
	require.Equal(t, 15*time.Second, cfg.API.Timeout)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "escrowkit.yaml", `
env: dev
api:
  baseURL: http://localhost:9000
  timeout: 3s
  burst: 4
escrow:
  minAmount: "250.50"
  resolverIds: [ops, support]
sandbox:
  users:
    - id: U1
      fullName: Ada Obi
      pin: "123456"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9000", cfg.API.BaseURL)
	require.Equal(t, 3*time.Second, cfg.API.Timeout)
	require.Equal(t, 4, cfg.API.Burst)
	require.Equal(t, float64(10), cfg.API.RatePerSecond)
	require.Equal(t, []string{"ops", "support"}, cfg.Escrow.ResolverIDs)
	require.Len(t, cfg.Sandbox.Users, 1)
	require.Equal(t, "Ada Obi", cfg.Sandbox.Users[0].FullName)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "escrowkit.toml", `
Env = "dev"

[API]
BaseURL = "http://localhost:9100"
Timeout = "7s"

[Logging]
Level = "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9100", cfg.API.BaseURL)
	require.Equal(t, 7*time.Second, cfg.API.Timeout)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "bad.yaml", "api:\n  baseUrl: http://x\n"))
	require.Error(t, err)
	_, err = Load(writeConfig(t, "bad.toml", "[API]\nRetries = 3\n"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ESCROWKIT_API_BASE_URL", "http://10.0.0.5:8088")
	t.Setenv("ESCROWKIT_ESCROW_RESOLVER_IDS", "ops, legal ,")
	t.Setenv("ESCROWKIT_API_TIMEOUT", "2s")
	t.Setenv("ESCROWKIT_SANDBOX_AUTH_RPM", "30")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.5:8088", cfg.API.BaseURL)
	require.Equal(t, 30.0, cfg.Sandbox.AuthRequestsPerMinute)
	require.Equal(t, []string{"ops", "legal"}, cfg.Escrow.ResolverIDs)
	require.Equal(t, 2*time.Second, cfg.API.Timeout)

	t.Setenv("ESCROWKIT_API_TIMEOUT", "soon")
	_, err = Load("")
	require.ErrorContains(t, err, "ESCROWKIT_API_TIMEOUT")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"plaintext outside dev": func(c *Config) { c.Env = "prod" },
		"zero minimum":          func(c *Config) { c.Escrow.MinAmount = "0" },
		"negative auth limit":   func(c *Config) { c.Sandbox.AuthBurst = -1 },
		"unknown store backend": func(c *Config) { c.Security.StoreBackend = "vault" },
		"bad minimum":           func(c *Config) { c.Escrow.MinAmount = "lots" },
		"bad level":             func(c *Config) { c.Logging.Level = "loud" },
		"bad sample ratio":      func(c *Config) { c.Telemetry.SampleRatio = 2 },
		"duplicate user": func(c *Config) {
			c.Sandbox.Users = []SandboxUser{{ID: "U1"}, {ID: "U1"}}
		},
		"short pin": func(c *Config) {
			c.Sandbox.Users = []SandboxUser{{ID: "U1", PIN: "123"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestAPIURLAutoUpgrade(t *testing.T) {
	cfg := Default()
	cfg.Env = "prod"
	cfg.API.AutoUpgradeHTTP = true
	u, err := cfg.APIURL()
	require.NoError(t, err)
	require.Equal(t, "https", u.Scheme)
}
