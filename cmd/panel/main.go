package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/johnrirwin/newspanel/internal/app"
	"github.com/johnrirwin/newspanel/internal/config"
	"github.com/johnrirwin/newspanel/internal/logging"
)

func main() {
	cfg := config.Load()

	application, err := app.New(cfg)
	if err != nil {
		logging.New(logging.LevelError).Error("Failed to initialize panel", logging.WithField("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		application.Logger.Info("Shutting down...")
		cancel()
	}()

	runErr := application.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	application.Shutdown(shutdownCtx)

	if runErr != nil {
		application.Logger.Error("Panel stopped with error", logging.WithField("error", runErr.Error()))
		os.Exit(1)
	}
}
