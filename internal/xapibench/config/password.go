package config

import (
	"errors"
	"fmt"

	"github.com/nsqlite/xapibench/internal/xapibench/backend"
	"github.com/peterh/liner"
)

// PasswordPrompter asks the operator for a secret.
type PasswordPrompter func(prompt string) (string, error)

// TerminalPrompt reads a password from the terminal without echoing it.
// When stdout is not a terminal it returns an empty password.
func TerminalPrompt(prompt string) (string, error) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	password, err := line.PasswordPrompt(prompt)
	switch {
	case errors.Is(err, liner.ErrNotTerminalOutput):
		return "", nil
	case errors.Is(err, liner.ErrPromptAborted):
		return "", errors.New("password prompt aborted")
	case err != nil:
		return "", fmt.Errorf("error reading password: %w", err)
	}
	return password, nil
}

// NeedsPassword reports whether the backend authenticates with
// Username and Password.
func (c Config) NeedsPassword() bool {
	return c.Kind != backend.SQLite && c.Username != ""
}

// ResolvePassword prompts for the password when the backend needs one and
// none was given. The password only lives in memory.
func (c *Config) ResolvePassword(prompt PasswordPrompter) error {
	if c.Password != "" || !c.NeedsPassword() {
		return nil
	}

	password, err := prompt(fmt.Sprintf("Password for %s on %s: ", c.Username, c.Target()))
	if err != nil {
		return err
	}
	c.Password = password
	return nil
}
