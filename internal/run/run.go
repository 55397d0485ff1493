// Package run executes external commands behind a narrow interface so the
// transports can be tested against fakes that assert on argv.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
)

// Result carries the observable outcome of one command invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs external commands. Implementations must never swallow a nonzero
// exit: it surfaces as a *CommandError carrying the exit code and captured
// stderr.
type Runner interface {
	// Run executes argv and captures stdout and stderr.
	Run(ctx context.Context, argv ...string) (Result, error)
	// RunIn executes argv with stdin streamed from r.
	RunIn(ctx context.Context, stdin io.Reader, argv ...string) (Result, error)
	// RunOut executes argv and hands the process stdout to consume while the
	// command runs. The command's stderr is captured in the Result.
	RunOut(ctx context.Context, consume func(io.Reader) error, argv ...string) (Result, error)
	// LookPath reports the absolute path of a binary, or an error when it is
	// not installed.
	LookPath(name string) (string, error)
}

// CommandError describes a command that started and exited nonzero.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", filepath.Base(e.Argv[0]), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ExecRunner is the os/exec backed Runner used outside of tests.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

func (ExecRunner) Run(ctx context.Context, argv ...string) (Result, error) {
	return runCaptured(ctx, nil, argv)
}

func (ExecRunner) RunIn(ctx context.Context, stdin io.Reader, argv ...string) (Result, error) {
	return runCaptured(ctx, stdin, argv)
}

func (ExecRunner) RunOut(ctx context.Context, consume func(io.Reader) error, argv ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%s: acquire stdout: %w", argv[0], err)
	}
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%s: start: %w", argv[0], err)
	}

	consumeErr := consume(stdout)
	if consumeErr != nil {
		// The consumer gave up mid-stream; the process may be blocked writing
		// into the pipe, so reap it before Wait.
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	res := Result{ExitCode: exitCode(cmd, waitErr), Stderr: stderr.String()}
	if consumeErr != nil {
		return res, consumeErr
	}
	if waitErr != nil {
		return res, finishErr(ctx, argv, res, waitErr)
	}
	return res, nil
}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func runCaptured(ctx context.Context, stdin io.Reader, argv []string) (Result, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{ExitCode: exitCode(cmd, err), Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		return res, finishErr(ctx, argv, res, err)
	}
	return res, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func finishErr(ctx context.Context, argv []string, res Result, err error) error {
	// A command killed by context cancellation should report the deadline, not
	// the signal it died from.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return &CommandError{Argv: argv, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return fmt.Errorf("%s: %w", argv[0], err)
}
