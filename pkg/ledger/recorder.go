// Package ledger defines the client contract of the append-only ledger and the
// decorators the engines put in front of it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// RecordType names the state transition a record captures.
type RecordType string

const (
	RecordAuctionCreated        RecordType = "AuctionCreated"
	RecordBidPlaced             RecordType = "BidPlaced"
	RecordAuctionClosed         RecordType = "AuctionClosed"
	RecordOfferAccepted         RecordType = "OfferAccepted"
	RecordCompensationCompleted RecordType = "CompensationCompleted"
	RecordTransferConfirmed     RecordType = "TransferConfirmed"
)

// ErrNotFound is returned by Get when no record has the requested id.
var ErrNotFound = errors.New("ledger record not found")

// ErrInvalidRecord is returned for records the ledger will never accept. It is not retried.
var ErrInvalidRecord = errors.New("invalid ledger record")

// Record is an immutable ledger entry.
type Record struct {
	Id             string            `json:"id" dynamodbav:"id"`
	IdempotencyKey string            `json:"idempotency_key" dynamodbav:"idempotency_key"`
	AggregateId    string            `json:"aggregate_id" dynamodbav:"aggregate_id"`
	Type           RecordType        `json:"type" dynamodbav:"type"`
	Payload        map[string]string `json:"payload,omitempty" dynamodbav:"payload,omitempty"`
	Timestamp      time.Time         `json:"timestamp" dynamodbav:"timestamp"`
	Protocol       string            `json:"protocol,omitempty" dynamodbav:"protocol,omitempty"`
}

// Validate checks the fields every adapter relies on.
func (r Record) Validate() error {
	switch {
	case r.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidRecord)
	case r.AggregateId == "":
		return fmt.Errorf("%w: aggregate id is required", ErrInvalidRecord)
	case r.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalidRecord)
	case r.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidRecord)
	}
	return nil
}

// Receipt identifies an appended record. Protocol is the ledger's own reference
// (transaction id, row id); some backends have none.
type Receipt struct {
	Id       string `json:"id"`
	Protocol string `json:"protocol,omitempty"`
}

// HasProtocol reports whether the backend returned a protocol reference.
func (r Receipt) HasProtocol() bool {
	return r.Protocol != ""
}

//go:generate mockery --name Recorder --output ./mocks

// Recorder is the append-only ledger client.
// Append must be idempotent by IdempotencyKey: re-appending a key returns the
// receipt of the first append.
type Recorder interface {
	Append(ctx context.Context, rec Record) (Receipt, error)
	Get(ctx context.Context, id string) (Record, error)
	History(ctx context.Context, aggregateID string) ([]Record, error)
}

// NewRecord builds a record for one logical transition.
func NewRecord(typ RecordType, aggregateID, idempotencyKey string, at time.Time, payload map[string]string) Record {
	return Record{
		IdempotencyKey: idempotencyKey,
		AggregateId:    aggregateID,
		Type:           typ,
		Payload:        payload,
		Timestamp:      at.UTC(),
	}
}

// Amount renders a money value for a record payload.
func Amount(v int64) string {
	return strconv.FormatInt(v, 10)
}
