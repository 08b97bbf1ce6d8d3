// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/chris/tax-credit-settlement/pkg/compensation"
	"github.com/chris/tax-credit-settlement/pkg/ledger"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// LedgerBackend selects where ledger records are written.
type LedgerBackend string

const (
	LedgerMemory   LedgerBackend = "memory"
	LedgerSQLite   LedgerBackend = "sqlite"
	LedgerDynamoDB LedgerBackend = "dynamodb"
	LedgerFabric   LedgerBackend = "fabric"
)

// StorageBackend selects where aggregates are persisted.
type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StorageDynamoDB StorageBackend = "dynamodb"
)

// Tables names the DynamoDB tables.
type Tables struct {
	Instruments   string `env:"DYNAMODB_INSTRUMENTS_TABLE_NAME"   envDefault:"credit-instruments"`
	Auctions      string `env:"DYNAMODB_AUCTIONS_TABLE_NAME"      envDefault:"auctions"`
	Offers        string `env:"DYNAMODB_OFFERS_TABLE_NAME"        envDefault:"offers"`
	Compensations string `env:"DYNAMODB_COMPENSATIONS_TABLE_NAME" envDefault:"compensations"`
	Profiles      string `env:"DYNAMODB_PROFILES_TABLE_NAME"      envDefault:"reputation-profiles"`
	Ledger        string `env:"DYNAMODB_LEDGER_TABLE_NAME"        envDefault:"ledger"`
}

// Fabric locates the permissioned ledger network.
type Fabric struct {
	ConnectionProfile string `env:"FABRIC_CONNECTION_PROFILE"`
	WalletPath        string `env:"FABRIC_WALLET_PATH" envDefault:"wallet"`
	Identity          string `env:"FABRIC_IDENTITY"    envDefault:"settlement"`
	MSPID             string `env:"FABRIC_MSP_ID"`
	CertPath          string `env:"FABRIC_CERT_PATH"`
	KeyPath           string `env:"FABRIC_KEY_PATH"`
	Channel           string `env:"FABRIC_CHANNEL"     envDefault:"settlement"`
	Chaincode         string `env:"FABRIC_CHAINCODE"   envDefault:"ledger"`
}

// Config is the full runtime configuration.
type Config struct {
	StorageBackend StorageBackend `env:"STORAGE_BACKEND" envDefault:"dynamodb"`
	Tables         Tables

	// SQS queues for delayed auction closes and outbound domain events.
	CloseQueueURL  string `env:"SQS_CLOSE_QUEUE_URL"`
	EventsQueueURL string `env:"SQS_EVENTS_QUEUE_URL"`

	LedgerBackend  LedgerBackend `env:"LEDGER_BACKEND"     envDefault:"memory"`
	LedgerSQLPath  string        `env:"LEDGER_SQLITE_PATH" envDefault:"ledger.db"`
	LedgerCache    int           `env:"LEDGER_CACHE_SIZE"  envDefault:"1024"`
	Fabric         Fabric
	MaxRetries     uint          `env:"LEDGER_MAX_RETRIES"      envDefault:"3"`
	AttemptTimeout time.Duration `env:"LEDGER_ATTEMPT_TIMEOUT"  envDefault:"5s"`
	RetryInitial   time.Duration `env:"LEDGER_RETRY_INITIAL"    envDefault:"200ms"`
	RetryMax       time.Duration `env:"LEDGER_RETRY_MAX"        envDefault:"2s"`

	MultaRate string `env:"COMPENSATION_MULTA_RATE" envDefault:"0.05"`
	JurosRate string `env:"COMPENSATION_JUROS_RATE" envDefault:"0.03"`

	SweepInterval    time.Duration `env:"SWEEP_INTERVAL"          envDefault:"30s"`
	CloseConcurrency int64         `env:"AUCTION_CLOSE_CONCURRENCY" envDefault:"8"`

	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"tax-credit-settlement"`
}

// Load reads .env when present, then parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the parser cannot.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory, StorageDynamoDB:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	switch c.LedgerBackend {
	case LedgerMemory, LedgerSQLite, LedgerDynamoDB:
	case LedgerFabric:
		if c.Fabric.ConnectionProfile == "" || c.Fabric.MSPID == "" {
			return errors.New("fabric ledger needs FABRIC_CONNECTION_PROFILE and FABRIC_MSP_ID")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.LedgerBackend)
	}
	if _, err := c.Rates(); err != nil {
		return err
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	return nil
}

// Rates parses the compensation surcharges.
func (c Config) Rates() (compensation.Rates, error) {
	multa, err := decimal.NewFromString(c.MultaRate)
	if err != nil {
		return compensation.Rates{}, fmt.Errorf("invalid COMPENSATION_MULTA_RATE: %w", err)
	}
	juros, err := decimal.NewFromString(c.JurosRate)
	if err != nil {
		return compensation.Rates{}, fmt.Errorf("invalid COMPENSATION_JUROS_RATE: %w", err)
	}
	rates := compensation.Rates{Multa: multa, Juros: juros}
	if !rates.Valid() {
		return compensation.Rates{}, errors.New("compensation rates cannot be negative")
	}
	return rates, nil
}

// Retry returns the ledger retry policy.
func (c Config) Retry() ledger.RetryConfig {
	return ledger.RetryConfig{
		MaxRetries:      c.MaxRetries,
		AttemptTimeout:  c.AttemptTimeout,
		InitialInterval: c.RetryInitial,
		MaxInterval:     c.RetryMax,
	}
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c Config) NeedsAWS() bool {
	return c.StorageBackend == StorageDynamoDB || c.LedgerBackend == LedgerDynamoDB ||
		c.CloseQueueURL != "" || c.EventsQueueURL != ""
}
