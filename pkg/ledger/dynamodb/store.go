// Package dynamodb implements the ledger on a DynamoDB table keyed by idempotency key.
package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/tax-credit-settlement/pkg/ledger"
	"github.com/google/uuid"
)

const (
	recordIDGSI         = "id-index"
	aggregateHistoryGSI = "aggregate_id-timestamp-index"
)

// DynamoDBAPI is the subset of the DynamoDB client the ledger uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store is an append-only ledger table. Records are never updated or deleted.
type Store struct {
	Client          DynamoDBAPI
	LedgerTableName string
}

// New creates a new Store.
func New(client DynamoDBAPI, ledgerTable string) *Store {
	return &Store{Client: client, LedgerTableName: ledgerTable}
}

// Make sure we conform to the interface
var _ ledger.Recorder = (*Store)(nil)

// Append writes rec under its idempotency key. A replayed key returns the stored record's id.
func (s *Store) Append(ctx context.Context, rec ledger.Record) (ledger.Receipt, error) {
	if err := rec.Validate(); err != nil {
		return ledger.Receipt{}, err
	}
	if rec.Id == "" {
		rec.Id = uuid.NewString()
	}

	// 1. Marshal the record for the Put operation.
	recAV, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("%w: failed to marshal record: %v", ledger.ErrInvalidRecord, err)
	}

	// 2. Write it unless the key is already recorded.
	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(s.LedgerTableName),
		Item:                                recAV,
		ConditionExpression:                 aws.String("attribute_not_exists(idempotency_key)"),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return ledger.Receipt{Id: rec.Id}, nil
	}

	// 3. A failed condition means an earlier attempt already landed.
	var condCheckFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &condCheckFailed) {
		return ledger.Receipt{}, fmt.Errorf("failed to append ledger record: %w", err)
	}
	var existing ledger.Record
	if len(condCheckFailed.Item) > 0 {
		if err := attributevalue.UnmarshalMap(condCheckFailed.Item, &existing); err != nil {
			return ledger.Receipt{}, fmt.Errorf("failed to unmarshal existing record: %w", err)
		}
	} else if existing, err = s.getByKey(ctx, rec.IdempotencyKey); err != nil {
		return ledger.Receipt{}, err
	}
	return ledger.Receipt{Id: existing.Id, Protocol: existing.Protocol}, nil
}

func (s *Store) getByKey(ctx context.Context, key string) (ledger.Record, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.LedgerTableName),
		Key:            map[string]types.AttributeValue{"idempotency_key": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return ledger.Record{}, fmt.Errorf("failed to get ledger record: %w", err)
	}
	if result.Item == nil {
		return ledger.Record{}, ledger.ErrNotFound
	}
	var rec ledger.Record
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return ledger.Record{}, fmt.Errorf("failed to unmarshal ledger record: %w", err)
	}
	return rec, nil
}

// Get retrieves a record by id through the id index.
func (s *Store) Get(ctx context.Context, id string) (ledger.Record, error) {
	result, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.LedgerTableName),
		IndexName:              aws.String(recordIDGSI),
		KeyConditionExpression: aws.String("id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: id},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return ledger.Record{}, fmt.Errorf("failed to query ledger record: %w", err)
	}
	if len(result.Items) == 0 {
		return ledger.Record{}, ledger.ErrNotFound
	}
	var rec ledger.Record
	if err := attributevalue.UnmarshalMap(result.Items[0], &rec); err != nil {
		return ledger.Record{}, fmt.Errorf("failed to unmarshal ledger record: %w", err)
	}
	return rec, nil
}

// History queries an aggregate's records, oldest first.
func (s *Store) History(ctx context.Context, aggregateID string) ([]ledger.Record, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.LedgerTableName),
		IndexName:              aws.String(aggregateHistoryGSI),
		KeyConditionExpression: aws.String("aggregate_id = :aggregate_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aggregate_id": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var records []ledger.Record
	for {
		result, err := s.Client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query ledger history: %w", err)
		}
		var page []ledger.Record
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ledger history: %w", err)
		}
		records = append(records, page...)
		if len(result.LastEvaluatedKey) == 0 {
			return records, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}
