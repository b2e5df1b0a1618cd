package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"escrowkit/config"
	"escrowkit/gateway/biometric"
	"escrowkit/observability/logging"
	"escrowkit/services/sandbox"
)

func startSandbox(t *testing.T) config.Config {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, sandbox.AutoMigrate(db))
	srv, err := sandbox.New(sandbox.Config{
		DB:          db,
		Resolvers:   []string{"support"},
		TokenSecret: "cli-test-secret",
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, srv.Seed(context.Background(), []sandbox.SeedUser{
		{ID: "U1", FullName: "Ada Obi", Username: "ada", TxPIN: "123456", LoginPIN: "654321"},
		{ID: "U2", FullName: "Bayo Eze", Username: "bayo", TxPIN: "222222"},
	}))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.API.BaseURL = ts.URL
	cfg.API.RatePerSecond = 0
	cfg.Security.StorePath = t.TempDir()
	cfg.Security.PassphraseEnv = "ESCROWKIT_TEST_STORE_PASSPHRASE"
	t.Setenv(cfg.Security.PassphraseEnv, "test-passphrase")

	original := loadConf
	loadConf = func(string) (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConf = original })
	return cfg
}

func runCLI(stdin string, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

var refPattern = regexp.MustCompile(`ESC-[0-9A-F]+`)

func TestUsage(t *testing.T) {
	code, _, stderr := runCLI("")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Usage: escrowctl")

	startSandbox(t)
	code, _, stderr = runCLI("", "frobnicate")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown command: frobnicate")
}

func TestEscrowCommands(t *testing.T) {
	startSandbox(t)

	code, stdout, stderr := runCLI("000000\n123456\n", "create", "--payer", "U1", "--payee", "U2", "--amount", "500", "--expires", "+2d")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stderr, "Invalid PIN")
	ref := refPattern.FindString(stdout)
	require.NotEmpty(t, ref)

	code, stdout, stderr = runCLI("123456\n", "fund", ref, "--actor", "U1")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Escrow "+ref+" updated")

	code, _, stderr = runCLI("123456\n", "cancel", ref, "--actor", "U1")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Escrow: Escrow cannot be cancelled in its current state.")
	require.Equal(t, 1, strings.Count(stderr, "cannot be cancelled"))
	require.NotContains(t, stderr, "Error:")

	code, stdout, _ = runCLI("", "list", "--user", "U2")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, ref)
	require.Contains(t, stdout, "funded")
	require.Contains(t, stdout, "@ada")

	code, _, _ = runCLI("", "amounts", "hide")
	require.Equal(t, 0, code)
	code, stdout, _ = runCLI("", "list", "--user", "U2")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "****")
	require.NotRegexp(t, `\s500\s`, stdout)

	code, stdout, _ = runCLI("", "get", ref)
	require.Equal(t, 0, code)
	require.Contains(t, stdout, `"status": "funded"`)
	require.Contains(t, stdout, `"time_left"`)
}

func TestCreateValidationNeverReachesServer(t *testing.T) {
	startSandbox(t)
	code, _, stderr := runCLI("123456\n", "create", "--payer", "U1", "--payee", "U1", "--amount", "500")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "You cannot create an escrow with yourself.")

	code, _, stderr = runCLI("", "create", "--payer", "U1", "--payee", "U2", "--amount", "lots")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--amount must be a number")
}

func TestPINOutOfInput(t *testing.T) {
	startSandbox(t)
	code, _, stderr := runCLI("12\n", "fund", "ESC-0000", "--actor", "U1")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "PIN must be 6 digits")
	require.Contains(t, stderr, "no PIN entered")
}

func TestLoginAndBiometrics(t *testing.T) {
	startSandbox(t)

	code, stdout, stderr := runCLI("111111\n654321\n", "login", "--user", "U1")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stderr, "Invalid PIN")
	require.Contains(t, stdout, "Signed in as U1 via pin")

	t.Setenv(biometric.SimulateEnv, "pass")
	code, stdout, _ = runCLI("", "biometrics", "on", "--user", "U1")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "biometrics: on")

	code, stdout, _ = runCLI("", "login")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "Signed in as U1 via biometric")

	code, _, _ = runCLI("", "biometrics", "require-pin", "on")
	require.Equal(t, 0, code)
	code, _, stderr = runCLI("", "login")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "pass --user")
	code, _, _ = runCLI("", "biometrics", "require-pin", "off")
	require.Equal(t, 0, code)

	code, stdout, _ = runCLI("", "biometrics", "off", "--user", "U1")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "biometrics: off")
	code, stdout, _ = runCLI("", "biometrics", "status")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "biometrics: off")

	t.Setenv(biometric.SimulateEnv, "fail")
	code, stdout, stderr = runCLI("", "biometrics", "on", "--user", "U1")
	require.Equal(t, 1, code)
	require.Contains(t, stdout, "biometrics: off")
	require.Contains(t, stderr, "Biometric verification failed.")
}

func TestBoltSecureStoreBackend(t *testing.T) {
	cfg := startSandbox(t)
	cfg.Security.StoreBackend = config.StoreBackendBolt
	cfg.Security.StorePath = filepath.Join(t.TempDir(), "secure.db")
	loadConf = func(string) (config.Config, error) { return cfg, nil }

	code, _, stderr := runCLI("", "biometrics", "require-pin", "on")
	require.Equal(t, 0, code, stderr)
	code, stdout, _ := runCLI("", "biometrics", "status")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "require PIN on launch: true")
	require.FileExists(t, cfg.Security.StorePath)
}

func TestPINUpdate(t *testing.T) {
	startSandbox(t)
	code, stdout, stderr := runCLI("123456\n777777\n777777\n", "pin", "update", "--user", "U1")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Transaction PIN updated")

	code, _, stderr = runCLI("123456\n", "fund", "ESC-NOPE", "--actor", "U1")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Invalid PIN")

	code, _, stderr = runCLI("777777\n777777\n778777\n", "pin", "update", "--user", "U1")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "PINs do not match")
}

func TestParseExpiry(t *testing.T) {
	now := cliNow()
	ts, err := parseExpiry("+1d", now)
	require.NoError(t, err)
	require.Equal(t, now.Add(24*3600*1e9).UTC(), ts)
	_, err = parseExpiry("+0s", now)
	require.Error(t, err)
	_, err = parseExpiry("tomorrow", now)
	require.Error(t, err)
}
