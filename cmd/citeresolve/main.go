// Command citeresolve is the command line client: resolve, enrich, batch
// and migrate.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/citeresolve/internal/interfaces/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
