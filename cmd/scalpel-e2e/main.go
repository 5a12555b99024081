package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/scalpel-e2e/cmd"
	"github.com/xkilldash9x/scalpel-e2e/internal/observability"
	"github.com/xkilldash9x/scalpel-e2e/internal/results"
)

const panicLogFile = "panic.log"

// Define function variables for dependency injection/mocking in tests.
var (
	osWriteFile = os.WriteFile
	// Allows mocking os.Exit in tests.
	osExit  = os.Exit
	execute = cmd.Execute
)

func main() {
	defer handlePanic()

	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitCode(execute(ctx))
	stop()
	osExit(code)
}

// exitCode maps the command error to the process status. Anything that kept
// the harness from reaching a verdict counts as an abort.
func exitCode(err error) int {
	if err == nil {
		return results.ExitOK
	}
	var exitErr *cmd.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Run interrupted.")
	}
	return results.ExitAborted
}

// handlePanic writes the panic and its stack to panicLogFile and exits with
// the abort status.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}

	// Ensure logs are flushed before proceeding.
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		// If logging fails, print to stderr as a fallback.
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(results.ExitAborted)
		return
	}

	fmt.Fprintf(os.Stderr, "\nCRASH DETECTED: %v\nDetails logged to %s\n", r, panicLogFile)
	osExit(results.ExitAborted)
}
