package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/tax-credit-settlement/pkg/app"
	"github.com/chris/tax-credit-settlement/pkg/clock"
	"github.com/chris/tax-credit-settlement/pkg/config"
	"github.com/chris/tax-credit-settlement/pkg/scheduler"
)

var sweeper *scheduler.Sweeper

func setup() {
	// Load environment variables for local testing.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	a, err := app.New(context.TODO(), cfg, clock.Real{}, logger)
	if err != nil {
		log.Fatalf("failed to build engines: %v", err)
	}
	sweeper = scheduler.NewSweeper(a.Clock, cfg.SweepInterval, logger, a.SweepTasks()...)
}

// HandleRequest is triggered by an EventBridge Schedule.
func HandleRequest(ctx context.Context) error {
	log.Println("Starting sweep of due auctions and expired offers...")

	if err := sweeper.RunOnce(ctx); err != nil {
		// Individual failures are retried on the next schedule.
		log.Printf("ERROR: sweep finished with failures: %v", err)
		return err
	}

	log.Println("Sweep finished.")
	return nil
}

func main() {
	setup()
	lambda.Start(HandleRequest)
}
