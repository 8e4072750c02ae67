// Package prompt shows modal input dialogs for input fragments.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecPrompter shells out to the first dialog tool found on PATH, zenity
// then kdialog. Both exit 1 when the user cancels.
type ExecPrompter struct {
	timeout time.Duration
}

// NewExecPrompter creates a prompter with the given dialog timeout. Zero
// waits for the user indefinitely.
func NewExecPrompter(timeout time.Duration) *ExecPrompter {
	return &ExecPrompter{timeout: timeout}
}

// Ask shows the dialog and returns the entered value. ok is false when
// the user dismissed it.
func (p *ExecPrompter) Ask(ctx context.Context, prompt, defaultValue string) (string, bool, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	argv, err := dialogCommand(prompt, defaultValue)
	if err != nil {
		return "", false, err
	}

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("prompt dialog: %w", err)
	}
	return strings.TrimRight(string(out), "\r\n"), true, nil
}

// dialogCommand builds the argv for the available dialog tool.
func dialogCommand(prompt, defaultValue string) ([]string, error) {
	if path, err := exec.LookPath("zenity"); err == nil {
		return []string{
			path, "--entry",
			"--title", "expandd",
			"--text", prompt,
			"--entry-text", defaultValue,
		}, nil
	}
	if path, err := exec.LookPath("kdialog"); err == nil {
		return []string{path, "--inputbox", prompt, defaultValue}, nil
	}
	return nil, errors.New("no dialog tool found (zenity or kdialog)")
}

// Static answers every prompt without a dialog; tests and the simulate
// command use it. An empty Value echoes the fragment's default.
type Static struct {
	Value  string
	Cancel bool
}

func (s Static) Ask(_ context.Context, _, defaultValue string) (string, bool, error) {
	if s.Cancel {
		return "", false, nil
	}
	if s.Value == "" {
		return defaultValue, true, nil
	}
	return s.Value, true, nil
}
