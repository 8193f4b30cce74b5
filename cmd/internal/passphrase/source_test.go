package passphrase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	calls := 0
	src := NewSource("GHR_TEST_PASS", "signer keystore")
	src.lookup = func(key string) (string, bool) {
		calls++
		require.Equal(t, "GHR_TEST_PASS", key)
		return "hunter2", true
	}
	for i := 0; i < 3; i++ {
		value, err := src.Get()
		require.NoError(t, err)
		require.Equal(t, "hunter2", value)
	}
	require.Equal(t, 1, calls)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	src := NewSource("GHR_TEST_PASS", "")
	src.lookup = func(string) (string, bool) { return "   ", true }
	_, err := src.Get()
	require.ErrorContains(t, err, "GHR_TEST_PASS is set but empty")
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("GHR_TEST_PASS", "node keystore")
	src.lookup = func(string) (string, bool) { return "", false }
	src.terminal = func() bool { return false }
	_, err := src.Get()
	require.ErrorContains(t, err, "set GHR_TEST_PASS or run interactively")
}

func scripted(answers ...string) func(string) (string, error) {
	return func(string) (string, error) {
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}
}

func TestSourceConfirmation(t *testing.T) {
	newSource := func(answers ...string) *Source {
		src := NewSource("", "account keystore").WithConfirmation()
		src.terminal = func() bool { return true }
		src.prompt = scripted(answers...)
		return src
	}

	value, err := newSource("s3cret", "s3cret").Get()
	require.NoError(t, err)
	require.Equal(t, "s3cret", value)

	_, err = newSource("s3cret", "secret").Get()
	require.ErrorContains(t, err, "do not match")

	_, err = newSource("  ").Get()
	require.ErrorContains(t, err, "cannot be empty")
}
