// Package transcoder runs the external transcoding tool (ffmpeg) as a bounded,
// cancellable subprocess.
//
// The adapter returns no file list. Tools invoked through it write their
// outputs into a caller-supplied directory, and callers re-scan that
// directory using the filename patterns they passed on the command line.
package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultBinary is the transcoder executable looked up on PATH.
const DefaultBinary = "ffmpeg"

// DefaultWaitDelay bounds how long Run waits for output pipes to close after
// the process has been killed.
const DefaultWaitDelay = 2 * time.Second

// ErrProcess matches every *ProcessError via errors.Is.
var ErrProcess = errors.New("process error")

// Kind categorizes a subprocess failure.
type Kind string

const (
	// KindSpawnFailed means the process could not be started.
	KindSpawnFailed Kind = "spawn_failed"
	// KindTimedOut means the deadline expired and the process was killed.
	KindTimedOut Kind = "timed_out"
	// KindNonZeroExit means the process ran to completion with a failure status.
	KindNonZeroExit Kind = "non_zero_exit"
)

// ProcessError describes a failed subprocess invocation.
type ProcessError struct {
	Kind     Kind
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	switch e.Kind {
	case KindNonZeroExit:
		if e.Stderr != "" {
			return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
		}
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	case KindTimedOut:
		return fmt.Sprintf("%s timed out and was killed", e.Command)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s could not be started: %v", e.Command, e.Err)
		}
		return fmt.Sprintf("%s could not be started", e.Command)
	}
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrProcess.
func (e *ProcessError) Is(target error) bool {
	return target == ErrProcess
}

// Result holds the output of a successful invocation.
type Result struct {
	ExitCode    int
	Stdout      []byte
	StderrLines []string
}

// Runner executes one subprocess under a hard wall-clock deadline.
type Runner interface {
	Run(ctx context.Context, command string, args []string, timeout time.Duration) (*Result, error)
}

// ExecRunner is the os/exec backed Runner.
type ExecRunner struct {
	// WaitDelay overrides DefaultWaitDelay when positive.
	WaitDelay time.Duration
}

// NewExecRunner returns an ExecRunner with default settings.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts command with args and waits for it to finish or for timeout to
// expire. On expiry the process is killed before Run returns a KindTimedOut
// error. There is no retry.
func (r *ExecRunner) Run(ctx context.Context, command string, args []string, timeout time.Duration) (*Result, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command, args...) //nolint:gosec
	cmd.WaitDelay = DefaultWaitDelay
	if r.WaitDelay > 0 {
		cmd.WaitDelay = r.WaitDelay
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().
		Str("command", command).
		Strs("args", args).
		Dur("timeout", timeout).
		Msg("Starting subprocess")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Kind: KindSpawnFailed, Command: command, ExitCode: -1, Err: err}
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	stderrLines := splitLines(stderr.String())

	if ctxErr := runCtx.Err(); ctxErr != nil {
		log.Warn().
			Str("command", command).
			Dur("elapsed", elapsed).
			Dur("timeout", timeout).
			Msg("Subprocess deadline expired, process killed")
		return nil, &ProcessError{
			Kind:     KindTimedOut,
			Command:  command,
			ExitCode: -1,
			Stderr:   strings.Join(stderrLines, "\n"),
			Err:      ctxErr,
		}
	}

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		log.Debug().
			Str("command", command).
			Int("exit_code", exitCode).
			Dur("elapsed", elapsed).
			Msg("Subprocess failed")
		return nil, &ProcessError{
			Kind:     KindNonZeroExit,
			Command:  command,
			ExitCode: exitCode,
			Stderr:   strings.Join(stderrLines, "\n"),
			Err:      waitErr,
		}
	}

	log.Debug().
		Str("command", command).
		Dur("elapsed", elapsed).
		Int("stdout_bytes", stdout.Len()).
		Msg("Subprocess complete")

	return &Result{
		ExitCode:    0,
		Stdout:      stdout.Bytes(),
		StderrLines: stderrLines,
	}, nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
