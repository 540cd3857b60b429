// ABOUTME: The exec subcommand: interprets an agent program in this process and prints its result
// ABOUTME: Used as the default out-of-process command, so exit codes and stderr carry failures

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/2389/ephemera/internal/executor"
	"github.com/2389/ephemera/internal/server"
)

// runExec loads the program at args[0], calls its entry point with the
// remaining arguments, and writes the result to stdout. It returns the
// process exit code: 0 on success, 1 on failure, 2 on bad usage.
func runExec(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: ephemera exec <program> [args...]")
		return 2
	}

	entry := os.Getenv(server.EntryPointEnv)
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	loader := &executor.Interpreter{Stdout: stdout, Stderr: stderr}
	run := executor.NewInProcess(loader, entry, logger)

	callArgs := make([]any, len(args)-1)
	for i, a := range args[1:] {
		callArgs[i] = a
	}

	result, err := run.Run(args[0], callArgs, nil)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if err := printResult(stdout, result); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

// printResult writes strings verbatim and everything else as JSON.
func printResult(w io.Writer, result any) error {
	switch v := result.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		_, err = fmt.Fprintln(w, result)
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
