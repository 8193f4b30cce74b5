// Package passphrase resolves keystore passphrases for the ghreward binaries.
package passphrase

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source yields a keystore passphrase from an environment variable, falling
// back to a terminal prompt. The first result, success or failure, is cached.
type Source struct {
	envVar  string
	label   string
	confirm bool

	lookup   func(string) (string, bool)
	terminal func() bool
	prompt   func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting. label names the keystore in
// prompts and errors.
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore"
	}
	return &Source{
		envVar:   strings.TrimSpace(envVar),
		label:    label,
		lookup:   os.LookupEnv,
		terminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		prompt:   readTerminal,
	}
}

// WithConfirmation makes interactive entry ask twice. Used when a new
// keystore is being written.
func (s *Source) WithConfirmation() *Source {
	s.confirm = true
	return s
}

// Get returns the passphrase. Blank values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve() })
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookup(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.terminal() {
		if s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s passphrase required and no terminal available", s.label)
	}
	value, err := s.prompt("Enter " + s.label + " passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s passphrase cannot be empty", s.label)
	}
	if s.confirm {
		again, err := s.prompt("Repeat " + s.label + " passphrase: ")
		if err != nil {
			return "", err
		}
		if again != value {
			return "", fmt.Errorf("%s passphrases do not match", s.label)
		}
	}
	return value, nil
}

func readTerminal(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
