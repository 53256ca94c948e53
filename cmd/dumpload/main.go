// Command dumpload streams one inventory dump into the ingestion sink.
//
// Usage:
//
//	dumpload run --selector full --locator-url https://api/dumps --sink-url https://ingest/batches
//
// Every flag can also be set through a DUMPLOAD_* environment variable or a
// config file passed with --config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// execute runs the command line and maps the outcome to a process exit code.
func execute(ctx context.Context, args []string) int {
	rc := NewRootCommand(os.Stdout, os.Stderr)
	rc.SetArgs(args)
	err := rc.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dumpload:", err)
	}
	return exitCode(err)
}
