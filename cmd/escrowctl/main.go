package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"escrowkit/config"
)

var (
	cliNow   = time.Now
	newApp   = buildApp
	readPIN  = readPINFromTerminal
	loadConf = config.Load
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("escrowctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	var (
		configPath string
		verbose    bool
	)
	fs.StringVar(&configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML or TOML config file")
	fs.BoolVar(&verbose, "verbose", false, "write structured logs to stderr")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	cfg, err := loadConf(configPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	a, err := newApp(cfg, appIO{stdin: stdin, stdout: stdout, stderr: stderr, verbose: verbose})
	if err != nil {
		return printError(stderr, err.Error())
	}
	defer a.Close()

	switch rest[0] {
	case "login":
		return runLoginCommand(a, rest[1:])
	case "list":
		return runListCommand(a, rest[1:])
	case "get":
		return runGetCommand(a, rest[1:])
	case "create":
		return runCreateCommand(a, rest[1:])
	case "fund", "release", "refund", "deliver", "dispute", "cancel":
		return runTransitionCommand(a, rest[0], rest[1:])
	case "pin":
		return runPINCommand(a, rest[1:])
	case "biometrics":
		return runBiometricsCommand(a, rest[1:])
	case "amounts":
		return runAmountsCommand(a, rest[1:])
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`
Usage: escrowctl [--config path] [--verbose] <command> [flags]

Commands:
  login [--user ID]                     sign in with biometrics or login PIN
  list --user ID                        list escrows where ID is a party
  get REF                               show one escrow
  create --payer ID --payee ID --amount N [--description TEXT] [--expires +DURATION|RFC3339]
  fund|release|refund|deliver|dispute|cancel REF --actor ID
  pin create --user ID                  register a login PIN
  pin update --user ID                  change the transaction PIN
  biometrics on|off|status --user ID    manage biometric login on this device
  biometrics require-pin on|off         always ask for the login PIN at sign-in
  amounts show|hide                     mask amounts in list output`)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage())
	}
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}
