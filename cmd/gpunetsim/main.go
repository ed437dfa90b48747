package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gpunet/gpunet/cmd/gpunetsim/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
