package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/SourcePulse/fetch_layer/internal/app/runtime"
	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

func main() {
	log := logger.NewDefault("fetchlayer")

	application, err := runtime.NewApplication()
	if err != nil {
		log.WithError(err).Error("failed to initialise application")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("application terminated")
		os.Exit(1)
	}

	log.Info("shutting down")
	if err := application.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}
}
