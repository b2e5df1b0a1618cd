// Package config loads escrowkit settings from YAML or TOML files with
// ESCROWKIT_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ESCROWKIT_"

type APIConfig struct {
	BaseURL       string        `yaml:"baseURL" toml:"BaseURL"`
	Timeout       time.Duration `yaml:"timeout" toml:"Timeout"`
	RatePerSecond float64       `yaml:"ratePerSecond" toml:"RatePerSecond"`
	Burst         int           `yaml:"burst" toml:"Burst"`
	// AutoUpgradeHTTP rewrites http:// base URLs to https:// outside dev.
	AutoUpgradeHTTP bool `yaml:"autoUpgradeHTTP" toml:"AutoUpgradeHTTP"`
}

type EscrowConfig struct {
	// MinAmount is the smallest amount accepted by Create, as a decimal string.
	MinAmount   string   `yaml:"minAmount" toml:"MinAmount"`
	Currency    string   `yaml:"currency" toml:"Currency"`
	ResolverIDs []string `yaml:"resolverIds" toml:"ResolverIDs"`
}

const (
	StoreBackendLevelDB = "leveldb"
	StoreBackendBolt    = "bolt"
)

type SecurityConfig struct {
	// StorePath is the secure-store directory (leveldb) or file (bolt). Empty
	// keeps secrets in memory.
	StorePath string `yaml:"storePath" toml:"StorePath"`
	// StoreBackend is leveldb or bolt.
	StoreBackend string `yaml:"storeBackend" toml:"StoreBackend"`
	// PassphraseEnv names the variable holding the secure-store passphrase.
	PassphraseEnv string `yaml:"passphraseEnv" toml:"PassphraseEnv"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"Level"`
	File       string `yaml:"file" toml:"File"`
	MaxSizeMB  int    `yaml:"maxSizeMB" toml:"MaxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" toml:"MaxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays" toml:"MaxAgeDays"`
}

type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint" toml:"Endpoint"`
	Insecure    bool              `yaml:"insecure" toml:"Insecure"`
	Headers     map[string]string `yaml:"headers" toml:"Headers"`
	Traces      bool              `yaml:"traces" toml:"Traces"`
	Metrics     bool              `yaml:"metrics" toml:"Metrics"`
	SampleRatio float64           `yaml:"sampleRatio" toml:"SampleRatio"`
	// MetricsListen exposes /metrics for Prometheus scraping when set.
	MetricsListen string `yaml:"metricsListen" toml:"MetricsListen"`
}

type SandboxUser struct {
	ID       string `yaml:"id" toml:"ID"`
	FullName string `yaml:"fullName" toml:"FullName"`
	Username string `yaml:"username" toml:"Username"`
	PIN      string `yaml:"pin" toml:"PIN"`
	LoginPIN string `yaml:"loginPin" toml:"LoginPIN"`
}

type SandboxConfig struct {
	Listen       string        `yaml:"listen" toml:"Listen"`
	DatabasePath string        `yaml:"databasePath" toml:"DatabasePath"`
	TokenSecret  string        `yaml:"tokenSecret" toml:"TokenSecret"`
	TokenTTL     time.Duration `yaml:"tokenTTL" toml:"TokenTTL"`
	// AuthRequestsPerMinute throttles the PIN and biometric endpoints per
	// client address. Zero disables the limit.
	AuthRequestsPerMinute float64       `yaml:"authRequestsPerMinute" toml:"AuthRequestsPerMinute"`
	AuthBurst             int           `yaml:"authBurst" toml:"AuthBurst"`
	Users                 []SandboxUser `yaml:"users" toml:"Users"`
}

type Config struct {
	Service   string          `yaml:"service" toml:"Service"`
	Env       string          `yaml:"env" toml:"Env"`
	API       APIConfig       `yaml:"api" toml:"API"`
	Escrow    EscrowConfig    `yaml:"escrow" toml:"Escrow"`
	Security  SecurityConfig  `yaml:"security" toml:"Security"`
	Logging   LoggingConfig   `yaml:"logging" toml:"Logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"Telemetry"`
	Sandbox   SandboxConfig   `yaml:"sandbox" toml:"Sandbox"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Service: "escrowkit",
		Env:     "dev",
		API: APIConfig{
			BaseURL:       "http://127.0.0.1:8088",
			Timeout:       15 * time.Second,
			RatePerSecond: 10,
			Burst:         20,
		},
		Escrow: EscrowConfig{
			MinAmount:   "100",
			Currency:    "NGN",
			ResolverIDs: []string{"support"},
		},
		Security: SecurityConfig{
			StoreBackend:  StoreBackendLevelDB,
			PassphraseEnv: EnvPrefix + "STORE_PASSPHRASE",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Telemetry: TelemetryConfig{
			SampleRatio: 1,
		},
		Sandbox: SandboxConfig{
			Listen:                "127.0.0.1:8088",
			TokenTTL:              30 * 24 * time.Hour,
			AuthRequestsPerMinute: 60,
			AuthBurst:             10,
		},
	}
}

// Load reads path (YAML or TOML by extension), then applies environment
// overrides and validates. An empty path loads the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
		}
		return nil
	case ".yaml", ".yml", "":
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("config file %s: unsupported extension", path)
	}
}
