// Package dispatch runs the commands configured in the translation table.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// DefaultShell interprets command strings.
const DefaultShell = "/bin/sh"

// Outcome records the result of one dispatch attempt.
type Outcome struct {
	Command  string
	Started  bool // false when the shell could not be launched
	ExitCode int  // -1 when not started or killed by a signal
	Err      error
	Duration time.Duration
}

// OK reports whether the command ran and exited with status zero.
func (o Outcome) OK() bool {
	return o.Started && o.Err == nil && o.ExitCode == 0
}

// Shell runs command strings through a POSIX shell as "<shell> -c <command>"
// and waits for them. The string is passed through untouched; quoting is the
// table author's business.
type Shell struct {
	Path   string   // shell binary, DefaultShell if empty
	Env    []string // extra KEY=VALUE pairs appended to the process environment
	Stdout io.Writer
	Stderr io.Writer

	log *slog.Logger
}

// NewShell creates a Shell dispatcher inheriting the daemon's stdio.
func NewShell(path string, log *slog.Logger) *Shell {
	if path == "" {
		path = DefaultShell
	}
	if log == nil {
		log = slog.Default()
	}
	return &Shell{
		Path:   path,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		log:    log.With("component", "dispatch"),
	}
}

// Dispatch runs command and blocks until it exits. Failures are logged and
// reported in the Outcome; they are never retried. ctx is only used for
// logging; a running command is not cancelled.
func (s *Shell) Dispatch(ctx context.Context, command string, env ...string) Outcome {
	out := Outcome{Command: command, ExitCode: -1}

	s.log.InfoContext(ctx, "executing", "command", command)

	cmd := exec.Command(s.Path, "-c", command)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	if len(s.Env) > 0 || len(env) > 0 {
		cmd.Env = append(append(os.Environ(), s.Env...), env...)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		out.Err = fmt.Errorf("start %s: %w", s.Path, err)
		out.Duration = time.Since(start)
		s.log.ErrorContext(ctx, "can not execute", "command", command, "error", err)
		return out
	}
	out.Started = true

	err := cmd.Wait()
	out.Duration = time.Since(start)
	out.ExitCode = cmd.ProcessState.ExitCode()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		s.log.DebugContext(ctx, "command finished", "command", command, "duration", out.Duration)
	case errors.As(err, &exitErr):
		s.log.WarnContext(ctx, "command failed",
			"command", command,
			"status", exitErr.ProcessState.String(),
			"duration", out.Duration)
	default:
		out.Err = fmt.Errorf("wait: %w", err)
		s.log.ErrorContext(ctx, "command wait failed", "command", command, "error", err)
	}

	return out
}
