package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"escrowkit/gateway/pin"
)

var errNoInput = errors.New("no PIN entered")

// readPINFromTerminal reads a PIN without echo when stdin is a terminal and
// falls back to a plain line read for pipes.
func readPINFromTerminal(stdin io.Reader, stderr io.Writer, prompt string) (string, error) {
	fmt.Fprint(stderr, prompt)
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return "", fmt.Errorf("read PIN: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	br, ok := stdin.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(stdin)
	}
	line, err := br.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", errNoInput
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// lineInput keeps one buffered reader over non-terminal input so successive
// prompts consume successive lines.
func lineInput(r io.Reader) io.Reader {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return r
	}
	if _, ok := r.(*bufio.Reader); ok {
		return r
	}
	return bufio.NewReader(r)
}

// authorize runs action behind the transaction PIN of userID. The user is
// re-prompted after a rejected PIN until input runs out.
func authorize(a *app, userID string, action pin.Action) int {
	return authorizeCapturing(a, userID, nil, action)
}

// authorizeCapturing is authorize that also stores the accepted PIN in
// entered before action runs.
func authorizeCapturing(a *app, userID string, entered *string, action pin.Action) int {
	ctx := context.Background()
	a.gate.SetUser(userID)
	var actionErr error
	run := func(ctx context.Context) error {
		actionErr = action(ctx)
		return actionErr
	}
	if err := a.gate.ConfirmPin(run); err != nil {
		return printError(a.stderr, err.Error())
	}
	defer a.gate.OnClose()
	for {
		value, err := readPIN(a.stdin, a.stderr, "Transaction PIN: ")
		if err != nil {
			return printError(a.stderr, err.Error())
		}
		if entered != nil {
			*entered = value
		}
		switch a.gate.OnConfirm(ctx, value) {
		case pin.ResultCompleted:
			return 0
		case pin.ResultIncomplete:
			fmt.Fprintln(a.stderr, "PIN must be 6 digits")
		case pin.ResultInvalidPIN:
			fmt.Fprintln(a.stderr, a.gate.State().Error)
		case pin.ResultActionFailed:
			if errors.Is(actionErr, errNotCompleted) {
				return 1
			}
			return printError(a.stderr, a.gate.State().Error)
		default:
			return printError(a.stderr, "authorization interrupted")
		}
	}
}
