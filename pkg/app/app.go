// Package app assembles the settlement engines from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/chris/tax-credit-settlement/pkg/auction"
	"github.com/chris/tax-credit-settlement/pkg/clock"
	"github.com/chris/tax-credit-settlement/pkg/compensation"
	"github.com/chris/tax-credit-settlement/pkg/config"
	"github.com/chris/tax-credit-settlement/pkg/events"
	"github.com/chris/tax-credit-settlement/pkg/ledger"
	ledgerdb "github.com/chris/tax-credit-settlement/pkg/ledger/dynamodb"
	"github.com/chris/tax-credit-settlement/pkg/ledger/fabric"
	"github.com/chris/tax-credit-settlement/pkg/ledger/sqlite"
	"github.com/chris/tax-credit-settlement/pkg/negotiation"
	"github.com/chris/tax-credit-settlement/pkg/reputation"
	"github.com/chris/tax-credit-settlement/pkg/scheduler"
	"github.com/chris/tax-credit-settlement/pkg/settlement"
	"github.com/chris/tax-credit-settlement/pkg/storage"
	dydbstore "github.com/chris/tax-credit-settlement/pkg/storage/dynamodb"
	"github.com/chris/tax-credit-settlement/pkg/storage/memory"
)

// App holds the wired engines.
type App struct {
	Config       config.Config
	Clock        clock.Clock
	Store        storage.Storage
	Recorder     ledger.Recorder
	Scheduler    scheduler.Scheduler
	Publisher    events.Publisher
	Auctions     *auction.Engine
	Offers       *negotiation.Engine
	Compensation *compensation.Engine
	Transfers    *settlement.Confirmer
	Reputation   *reputation.Scorer

	closers []func() error
}

// New builds an App. AWS clients are created only when the configuration needs them.
func New(ctx context.Context, cfg config.Config, clk clock.Clock, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Clock: clk}

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to load SDK config: %w", err)
		}
	}

	// 1. Storage.
	switch cfg.StorageBackend {
	case config.StorageDynamoDB:
		a.Store = dydbstore.New(dynamodb.NewFromConfig(awsCfg), dydbstore.Tables{
			Instruments:   cfg.Tables.Instruments,
			Auctions:      cfg.Tables.Auctions,
			Offers:        cfg.Tables.Offers,
			Compensations: cfg.Tables.Compensations,
			Profiles:      cfg.Tables.Profiles,
		})
	default:
		a.Store = memory.New()
	}

	// 2. Ledger, wrapped in retries and a read cache.
	backend, err := a.openLedger(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	cached, err := ledger.NewCachedRecorder(ledger.NewRetryingRecorder(backend, cfg.Retry(), logger), cfg.LedgerCache)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create ledger cache: %w", err)
	}
	a.Recorder = cached

	// 3. Queues.
	a.Scheduler = scheduler.NoOpScheduler{}
	a.Publisher = &events.NoOpPublisher{}
	if cfg.CloseQueueURL != "" || cfg.EventsQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg)
		if cfg.CloseQueueURL != "" {
			a.Scheduler = scheduler.NewSQSScheduler(sqsClient, cfg.CloseQueueURL, clk)
		}
		if cfg.EventsQueueURL != "" {
			a.Publisher = events.NewSQSPublisher(sqsClient, cfg.EventsQueueURL)
		}
	}

	// 4. Engines.
	rates, err := cfg.Rates()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Reputation = reputation.NewScorer(a.Store, a.Publisher, clk, logger)
	a.Auctions = auction.NewEngine(a.Store, a.Recorder, a.Scheduler, a.Publisher, logger)
	a.Auctions.CloseConcurrency = cfg.CloseConcurrency
	a.Offers = negotiation.NewEngine(a.Store, a.Recorder, a.Publisher, logger)
	a.Compensation = compensation.NewEngine(a.Store, a.Recorder, a.Publisher, a.Reputation, rates, logger)
	a.Transfers = settlement.NewConfirmer(a.Store, a.Recorder, a.Publisher, a.Reputation, logger)
	return a, nil
}

func (a *App) openLedger(cfg config.Config, awsCfg aws.Config) (ledger.Recorder, error) {
	switch cfg.LedgerBackend {
	case config.LedgerSQLite:
		store, err := sqlite.Open(cfg.LedgerSQLPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.LedgerDynamoDB:
		return ledgerdb.New(dynamodb.NewFromConfig(awsCfg), cfg.Tables.Ledger), nil
	case config.LedgerFabric:
		store, err := fabric.Connect(fabric.Config{
			ConnectionProfile: cfg.Fabric.ConnectionProfile,
			WalletPath:        cfg.Fabric.WalletPath,
			Identity:          cfg.Fabric.Identity,
			MSPID:             cfg.Fabric.MSPID,
			CertPath:          cfg.Fabric.CertPath,
			KeyPath:           cfg.Fabric.KeyPath,
			Channel:           cfg.Fabric.Channel,
			Chaincode:         cfg.Fabric.Chaincode,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil
	default:
		return ledger.NewMemoryRecorder(), nil
	}
}

// SweepTasks returns the periodic work: closing due auctions and expiring offers.
func (a *App) SweepTasks() []scheduler.Task {
	return []scheduler.Task{
		{
			Name: "close-due-auctions",
			Run: func(ctx context.Context, now time.Time) error {
				_, err := a.Auctions.CloseDueAuctions(ctx, now)
				return err
			},
		},
		{
			Name: "expire-offers",
			Run: func(ctx context.Context, now time.Time) error {
				_, err := a.Offers.ExpireOffers(ctx, now)
				return err
			},
		},
	}
}

// Close releases ledger connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
