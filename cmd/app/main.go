package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chris/tax-credit-settlement/pkg/app"
	"github.com/chris/tax-credit-settlement/pkg/clock"
	"github.com/chris/tax-credit-settlement/pkg/config"
	"github.com/chris/tax-credit-settlement/pkg/scheduler"
	"github.com/chris/tax-credit-settlement/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load environment variables from .env file
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	shutdown, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdown(context.Background())

	a, err := app.New(ctx, cfg, clock.Real{}, logger)
	if err != nil {
		log.Fatalf("failed to build engines: %v", err)
	}
	defer a.Close()

	sweeper := scheduler.NewSweeper(a.Clock, cfg.SweepInterval, logger, a.SweepTasks()...)

	log.Printf("Starting settlement worker, sweeping every %s", cfg.SweepInterval)
	if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("ERROR: sweeper stopped: %v", err)
	}
	log.Println("Settlement worker stopped.")
}
