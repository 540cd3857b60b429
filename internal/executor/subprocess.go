// ABOUTME: Out-of-process executor spawning the stored program as a child process.
// ABOUTME: Captures stdout, stderr, and exit code; non-zero exits are results, not errors.

package executor

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/2389/ephemera/internal/agent"
)

// ExecSubcommand is the CLI subcommand that interprets a program in a child process.
const ExecSubcommand = "exec"

// Result is the outcome of a subprocess run.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"returncode"`
}

// Success reports whether the process exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Subprocess runs programs in child processes.
type Subprocess struct {
	command []string
	env     []string
	logger  *slog.Logger
}

// SelfCommand returns the command that re-runs this binary's exec subcommand.
func SelfCommand() ([]string, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	return []string{self, ExecSubcommand}, nil
}

// NewSubprocess creates an out-of-process executor that runs
// command... <location> <args...>. env entries are appended to the
// inherited environment.
func NewSubprocess(command []string, env []string, logger *slog.Logger) (*Subprocess, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("subprocess command is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subprocess{
		command: append([]string(nil), command...),
		env:     append([]string(nil), env...),
		logger:  logger.With("component", "executor", "mode", "subprocess"),
	}, nil
}

// Command returns the configured command prefix.
func (e *Subprocess) Command() []string {
	return append([]string(nil), e.command...)
}

// Stringify converts arguments to command-line tokens.
func Stringify(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprint(a)
	}
	return out
}

// Run spawns the program at location and waits for it to exit.
func (e *Subprocess) Run(location string, args []any) (Result, error) {
	argv := append(append(e.command[1:len(e.command):len(e.command)], location), Stringify(args)...)

	// No CommandContext: a running agent is only stopped by killing it.
	cmd := exec.Command(e.command[0], argv...)
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("spawning agent process", "command", e.command[0]+" "+strings.Join(argv, " "))

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("%w: spawning %s: %w", agent.ErrExecutionFailed, e.command[0], err)
	}
	return res, nil
}
