package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/sessionguard/internal/agent"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := agent.Main(ctx, agent.Env{
		Args:   os.Args[1:],
		Getenv: os.Getenv,
		Getwd:  os.Getwd,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})

	switch {
	case err == nil:
	case errors.Is(err, agent.ErrUsage):
		// usage was already printed
		os.Exit(2)
	default:
		slog.Error("sessionguard failed", "error", err)
		os.Exit(1)
	}
}
