// Package script runs external programs for script fragments, capturing
// stdout and bounding the run time.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a run when the runner is built with no timeout.
const DefaultTimeout = 30 * time.Second

// Runner executes one program per call. A non-zero exit, a missing binary
// or a timeout is an error; stdout is returned untrimmed and the error
// carries a stderr excerpt when the program wrote one.
type Runner struct {
	timeout time.Duration
}

// NewRunner creates a runner with the given per-run timeout. Zero or
// negative means DefaultTimeout.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{timeout: timeout}
}

func (r *Runner) Run(ctx context.Context, path string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("run %s: timed out after %s", path, r.timeout)
		}
		if msg := excerpt(stderr.String()); msg != "" {
			return "", fmt.Errorf("run %s: %w: %s", path, err, msg)
		}
		return "", fmt.Errorf("run %s: %w", path, err)
	}
	return stdout.String(), nil
}

// excerpt keeps the first stderr line, capped, for error messages.
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	const maxLen = 200
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
