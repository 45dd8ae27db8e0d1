// Command taskledger drives the transactional task-tracking engine: seeding,
// status transitions, summaries, audit inspection and archival, and a
// Prometheus metrics endpoint.
package main

import (
	"errors"
	"fmt"
	"os"

	"taskledger/pkg/domain"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitRejected = 3 // a rule or storage constraint refused the change
	exitConflict = 4 // deadlock or lock timeout; safe to retry
	exitNotFound = 5
)

var exitFunc = os.Exit

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		exitFunc(exitCode(err))
		return
	}
	exitFunc(exitOK)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, domain.ErrValidationRejected):
		return exitRejected
	case domain.IsRetryable(err):
		return exitConflict
	case errors.Is(err, domain.ErrNotFound):
		return exitNotFound
	default:
		return exitFailure
	}
}
