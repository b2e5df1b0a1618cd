package passphrase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedTerminal struct {
	answers []string
	err     error
	asked   int
}

func (s *scriptedTerminal) ReadSecret(string) (string, error) {
	s.asked++
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return "", nil
	}
	next := s.answers[0]
	s.answers = s.answers[1:]
	return next, nil
}

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	t.Setenv("ESCROWKIT_TEST_PASSPHRASE", "correct horse")
	tty := &scriptedTerminal{}
	src := NewSourceWith("ESCROWKIT_TEST_PASSPHRASE", tty)
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "correct horse", value)

	t.Setenv("ESCROWKIT_TEST_PASSPHRASE", "changed")
	value, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "correct horse", value)
	require.Zero(t, tty.asked)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("ESCROWKIT_TEST_PASSPHRASE", "   ")
	_, err := NewSourceWith("ESCROWKIT_TEST_PASSPHRASE", &scriptedTerminal{}).Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsUntilNonBlank(t *testing.T) {
	tty := &scriptedTerminal{answers: []string{" ", "battery staple"}}
	value, err := NewSourceWith("", tty).Get()
	require.NoError(t, err)
	require.Equal(t, "battery staple", value)
	require.Equal(t, 2, tty.asked)

	tty = &scriptedTerminal{}
	_, err = NewSourceWith("", tty).Get()
	require.ErrorContains(t, err, "left blank")
	require.Equal(t, maxAttempts, tty.asked)
}

func TestSourceWithoutTerminalNamesTheVariable(t *testing.T) {
	_, err := NewSourceWith("ESCROWKIT_UNSET_PASSPHRASE", &scriptedTerminal{err: errNoTerminal}).Get()
	require.ErrorContains(t, err, "set ESCROWKIT_UNSET_PASSPHRASE")

	_, err = NewSourceWith("", &scriptedTerminal{err: errors.New("eof")}).Get()
	require.ErrorContains(t, err, "read passphrase")
}
