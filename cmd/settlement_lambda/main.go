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
)

func main() {
	// Load environment variables from .env file (useful for local testing).
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Initialize dependencies once per container.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	a, err := app.New(context.TODO(), cfg, clock.Real{}, logger)
	if err != nil {
		log.Fatalf("failed to build engines: %v", err)
	}

	h := &handler{auctions: a.Auctions, scheduler: a.Scheduler, clock: a.Clock}
	lambda.Start(h.HandleRequest)
}
