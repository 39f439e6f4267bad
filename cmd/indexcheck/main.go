// Command indexcheck checks whether URLs are indexed by a search engine,
// using a ValueSERP-style batch API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; the environment may be set already.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "indexcheck: load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:]))
}

// run executes the CLI and maps the outcome to an exit code.
func run(ctx context.Context, args []string) int {
	root, a := newRootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	a.close()

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errNotReady):
		return 3
	default:
		fmt.Fprintf(os.Stderr, "indexcheck: %v\n", err)
		return 1
	}
}
