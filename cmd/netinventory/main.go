// Command netinventory discovers hosts on IPv4 networks and writes an
// inventory of what it finds.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/anstrom/netinventory/cmd/cli"
)

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI. SIGINT and SIGTERM cancel the context, which a
// running scan treats like a cancel marker.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.SetVersion(version, commit, buildTime)
	return cli.Run(ctx, args)
}
