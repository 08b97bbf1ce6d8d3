// Package fabric records ledger entries through a Hyperledger Fabric chaincode.
//
// The chaincode exposes three functions: AppendRecord(recordJSON) returning a
// receipt JSON, GetRecord(id) returning a record JSON or an empty payload, and
// GetHistory(aggregateID) returning a JSON array of records.
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chris/tax-credit-settlement/pkg/ledger"
	"github.com/google/uuid"
	"github.com/hyperledger/fabric-sdk-go/pkg/core/config"
	"github.com/hyperledger/fabric-sdk-go/pkg/gateway"
)

const (
	fnAppend  = "AppendRecord"
	fnGet     = "GetRecord"
	fnHistory = "GetHistory"
)

// Contract is the part of a gateway contract the ledger calls.
type Contract interface {
	SubmitTransaction(name string, args ...string) ([]byte, error)
	EvaluateTransaction(name string, args ...string) ([]byte, error)
}

// Config locates the network profile and the client identity.
type Config struct {
	ConnectionProfile string
	WalletPath        string
	Identity          string
	MSPID             string
	CertPath          string
	KeyPath           string
	Channel           string
	Chaincode         string
}

// Store implements ledger.Recorder on a chaincode.
type Store struct {
	contract Contract
	gw       *gateway.Gateway
}

// New wraps an existing contract.
func New(contract Contract) *Store {
	return &Store{contract: contract}
}

// Connect opens a gateway connection, enrolling the identity into the wallet on first use.
func Connect(cfg Config) (*Store, error) {
	wallet, err := gateway.NewFileSystemWallet(cfg.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	if !wallet.Exists(cfg.Identity) {
		if err := populateWallet(wallet, cfg); err != nil {
			return nil, fmt.Errorf("failed to populate wallet: %w", err)
		}
	}

	gw, err := gateway.Connect(
		gateway.WithConfig(config.FromFile(filepath.Clean(cfg.ConnectionProfile))),
		gateway.WithIdentity(wallet, cfg.Identity),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}

	network, err := gw.GetNetwork(cfg.Channel)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("failed to get network %s: %w", cfg.Channel, err)
	}

	return &Store{contract: network.GetContract(cfg.Chaincode), gw: gw}, nil
}

func populateWallet(wallet *gateway.Wallet, cfg Config) error {
	cert, err := os.ReadFile(filepath.Clean(cfg.CertPath))
	if err != nil {
		return err
	}
	key, err := os.ReadFile(filepath.Clean(cfg.KeyPath))
	if err != nil {
		return err
	}
	return wallet.Put(cfg.Identity, gateway.NewX509Identity(cfg.MSPID, string(cert), string(key)))
}

// Close releases the gateway connection.
func (s *Store) Close() {
	if s.gw != nil {
		s.gw.Close()
	}
}

// Make sure we conform to the interface
var _ ledger.Recorder = (*Store)(nil)

// call runs a blocking gateway call, returning early when ctx is done.
// The gateway API takes no context, so an abandoned call finishes in the background.
func call(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := fn()
		done <- result{payload, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.payload, r.err
	}
}

// Append submits rec to the chaincode. The chaincode deduplicates by idempotency
// key and returns the receipt of the first submission.
func (s *Store) Append(ctx context.Context, rec ledger.Record) (ledger.Receipt, error) {
	if err := rec.Validate(); err != nil {
		return ledger.Receipt{}, err
	}
	if rec.Id == "" {
		rec.Id = uuid.NewString()
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("%w: failed to marshal record: %v", ledger.ErrInvalidRecord, err)
	}

	payload, err := call(ctx, func() ([]byte, error) {
		return s.contract.SubmitTransaction(fnAppend, string(body))
	})
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to submit %s: %w", fnAppend, err)
	}

	var receipt ledger.Receipt
	if err := json.Unmarshal(payload, &receipt); err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to decode receipt: %w", err)
	}
	if receipt.Id == "" {
		receipt.Id = rec.Id
	}
	return receipt, nil
}

func (s *Store) Get(ctx context.Context, id string) (ledger.Record, error) {
	payload, err := call(ctx, func() ([]byte, error) {
		return s.contract.EvaluateTransaction(fnGet, id)
	})
	if err != nil {
		return ledger.Record{}, fmt.Errorf("failed to evaluate %s: %w", fnGet, err)
	}
	if len(payload) == 0 {
		return ledger.Record{}, ledger.ErrNotFound
	}
	var rec ledger.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return ledger.Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

func (s *Store) History(ctx context.Context, aggregateID string) ([]ledger.Record, error) {
	payload, err := call(ctx, func() ([]byte, error) {
		return s.contract.EvaluateTransaction(fnHistory, aggregateID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %s: %w", fnHistory, err)
	}
	if len(payload) == 0 {
		return nil, nil
	}
	var records []ledger.Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return records, nil
}
