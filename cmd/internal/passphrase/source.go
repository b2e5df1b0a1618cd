// Package passphrase resolves the secret that seals the escrowctl secure store.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// maxAttempts bounds interactive retries after blank input.
const maxAttempts = 3

var errNoTerminal = errors.New("no terminal to prompt on")

// Terminal reads a line without echo.
type Terminal interface {
	ReadSecret(prompt string) (string, error)
}

type stdinTerminal struct{}

func (stdinTerminal) ReadSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return string(raw), err
}

// Source yields the secure-store passphrase, preferring envVar over a prompt.
// The first answer, good or bad, is kept for the life of the process.
type Source struct {
	envVar string
	tty    Terminal

	once  sync.Once
	value string
	err   error
}

// NewSource prompts on stdin when envVar is unset.
func NewSource(envVar string) *Source {
	return NewSourceWith(envVar, stdinTerminal{})
}

// NewSourceWith prompts on tty when envVar is unset.
func NewSourceWith(envVar string, tty Terminal) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), tty: tty}
}

// Get resolves the passphrase once.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve() })
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		value, err := s.tty.ReadSecret("Secure store passphrase: ")
		switch {
		case errors.Is(err, errNoTerminal) && s.envVar != "":
			return "", fmt.Errorf("secure store locked: set %s or run interactively", s.envVar)
		case err != nil:
			return "", fmt.Errorf("read passphrase: %w", err)
		case strings.TrimSpace(value) != "":
			return value, nil
		}
	}
	return "", fmt.Errorf("secure store passphrase left blank %d times", maxAttempts)
}
