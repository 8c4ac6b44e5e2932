// Package main is the entry point for the mailcast CLI.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/shineum/mailcast/internal/cmd"
)

func main() {
	// A local .env file is a convenient place for SMTP credentials; missing
	// files are fine.
	_ = godotenv.Load()

	// SIGINT/SIGTERM cancel the context; the dispatcher observes it between
	// recipients, so an interrupted campaign still reports what it finished.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
