package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"escrowkit/gateway/login"
	"escrowkit/transport"
)

type cliPrompter struct {
	a      *app
	userID string
}

func (p cliPrompter) PromptLogin(_ context.Context, retry string) (string, string, error) {
	if retry != "" {
		fmt.Fprintln(p.a.stderr, retry)
	}
	value, err := readPIN(p.a.stdin, p.a.stderr, "Login PIN: ")
	if errors.Is(err, errNoInput) {
		return "", "", login.ErrCancelled
	}
	if err != nil {
		return "", "", err
	}
	return p.userID, value, nil
}

func runLoginCommand(a *app, args []string) int {
	fs := newFlagSet("login", a.stderr)
	var user string
	fs.StringVar(&user, "user", "", "user id for PIN sign-in")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	strategies := []login.Strategy{login.BiometricStrategy{Bridge: a.bridge}}
	if strings.TrimSpace(user) != "" {
		strategies = append(strategies, login.PINStrategy{
			Prompter: cliPrompter{a: a, userID: user},
			Verifier: a.auth,
			Haptics:  a.haptics,
		})
	}
	coordinator := login.NewCoordinator(a.prefs, a.logger, strategies...)
	session, err := coordinator.Login(context.Background())
	if errors.Is(err, login.ErrNotAuthenticated) && user == "" {
		return printError(a.stderr, "biometric sign-in unavailable; pass --user to sign in with a PIN")
	}
	if err != nil {
		return printError(a.stderr, err.Error())
	}
	fmt.Fprintf(a.stdout, "Signed in as %s via %s\n", session.UserID, session.Method)
	return 0
}

func runPINCommand(a *app, args []string) int {
	if len(args) == 0 {
		return printError(a.stderr, "pin requires create or update")
	}
	fs := newFlagSet("pin "+args[0], a.stderr)
	var user string
	fs.StringVar(&user, "user", "", "user id")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if strings.TrimSpace(user) == "" {
		return printError(a.stderr, "--user is required")
	}
	ctx := context.Background()

	switch args[0] {
	case "create":
		pin, err := readNewPIN(a, "New login PIN: ")
		if err != nil {
			return printError(a.stderr, err.Error())
		}
		if err := a.auth.CreateLoginPin(ctx, user, pin); err != nil {
			return printError(a.stderr, transport.UserMessage(err, "Unable to create PIN."))
		}
		fmt.Fprintln(a.stdout, "Login PIN created")
		return 0
	case "update":
		var current string
		code := authorizeCapturing(a, user, &current, func(ctx context.Context) error {
			next, err := readNewPIN(a, "New transaction PIN: ")
			if err != nil {
				return err
			}
			if err := a.auth.UpdatePin(ctx, user, current, next); err != nil {
				return errors.New(transport.UserMessage(err, "Unable to update PIN."))
			}
			return nil
		})
		if code == 0 {
			fmt.Fprintln(a.stdout, "Transaction PIN updated")
		}
		return code
	default:
		return printError(a.stderr, "unknown pin subcommand "+args[0])
	}
}

func readNewPIN(a *app, prompt string) (string, error) {
	first, err := readPIN(a.stdin, a.stderr, prompt)
	if err != nil {
		return "", err
	}
	second, err := readPIN(a.stdin, a.stderr, "Confirm PIN: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("PINs do not match")
	}
	return first, nil
}

func runBiometricsCommand(a *app, args []string) int {
	if len(args) == 0 {
		return printError(a.stderr, "biometrics requires on, off, status or require-pin")
	}
	sub := args[0]
	rest := args[1:]
	var setting string
	if sub == "require-pin" {
		if len(rest) == 0 || (rest[0] != "on" && rest[0] != "off") {
			return printError(a.stderr, "biometrics require-pin takes on or off")
		}
		setting, rest = rest[0], rest[1:]
	}
	fs := newFlagSet("biometrics "+sub, a.stderr)
	var user string
	fs.StringVar(&user, "user", "", "user id")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	ctx := context.Background()

	switch sub {
	case "status":
		requirePIN, err := a.prefs.RequirePINOnLaunch(ctx)
		if err != nil {
			return printError(a.stderr, err.Error())
		}
		fmt.Fprintf(a.stdout, "biometrics: %s\nrequire PIN on launch: %t\n", onOff(a.bridge.Enabled()), requirePIN)
		return 0
	case "require-pin":
		if err := a.prefs.SetRequirePINOnLaunch(ctx, setting == "on"); err != nil {
			return printError(a.stderr, err.Error())
		}
		fmt.Fprintf(a.stdout, "require PIN on launch: %s\n", setting)
		return 0
	case "on", "off":
		if strings.TrimSpace(user) == "" {
			return printError(a.stderr, "--user is required")
		}
		want := sub == "on"
		got := a.bridge.SetEnabled(ctx, user, want)
		fmt.Fprintf(a.stdout, "biometrics: %s\n", onOff(got))
		if got != want {
			return 1
		}
		return 0
	default:
		return printError(a.stderr, "unknown biometrics subcommand "+sub)
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
