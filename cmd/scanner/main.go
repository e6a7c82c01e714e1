package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/zephyr-analytics/zephscan/app/scanner"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	if err := scanner.NewRootCommand().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
