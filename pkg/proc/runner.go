// Package proc runs local subprocesses for operations fronted by a platform
// CLI rather than a direct HTTP call. It captures stdout, stderr and the
// exit code, and can decode JSON output for commands invoked with a
// machine-readable flag.
package proc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// Result holds a finished subprocess's captured output.
type Result struct {
	// ExitCode is the process exit code; zero on success.
	ExitCode int

	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string

	// Duration is the wall-clock run time.
	Duration time.Duration
}

// Success reports whether the process exited zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Runner spawns subprocesses with a shared base environment.
type Runner struct {
	logger zerolog.Logger

	// Env entries appended to the inherited environment for every run,
	// e.g. an access token variable for the platform CLI.
	Env map[string]string
}

// NewRunner creates a process runner.
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{
		logger: logger.With().Str("component", "proc").Logger(),
		Env:    map[string]string{},
	}
}

// Run executes name with args, blocking until exit or context cancellation.
// A non-zero exit is not an error here; callers inspect Result.ExitCode and
// decide. Only failure to start the process at all returns an error.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	cmd.Env = os.Environ()
	for k, v := range r.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("starting %s: %w", name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	r.logger.Debug().
		Str("cmd", name).
		Strs("args", args).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("subprocess finished")

	return result, nil
}

// RunJSON executes name with args and decodes its stdout into out. The
// process must exit zero; otherwise stderr is folded into the returned
// error.
func (r *Runner) RunJSON(ctx context.Context, out interface{}, name string, args ...string) error {
	result, err := r.Run(ctx, name, args...)
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("%s exited %d: %s", name, result.ExitCode, result.Stderr)
	}
	if err := json.Unmarshal([]byte(result.Stdout), out); err != nil {
		return fmt.Errorf("decoding %s output: %w", name, err)
	}
	return nil
}
