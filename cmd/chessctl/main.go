package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flyingMooncake/nft-Chess/internal/lifecycle"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newCLI()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode separates a half-finished two-phase operation from other
// failures so scripts can look at the journal.
func exitCode(err error) int {
	var partial *lifecycle.PartialCustodyTransferError
	if errors.As(err, &partial) {
		return 3
	}
	return 1
}
