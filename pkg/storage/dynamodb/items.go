package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/tax-credit-settlement/pkg/storage"
)

// getItem loads the item under key/value from table into out.
func (s *Store) getItem(ctx context.Context, table, key, value string, out any) error {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            map[string]types.AttributeValue{key: &types.AttributeValueMemberS{Value: value}},
		ConsistentRead: aws.Bool(true),
	}

	result, err := s.Client.GetItem(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to get item from %s: %w", table, err)
	}

	if result.Item == nil {
		return fmt.Errorf("%s %s: %w", key, value, storage.ErrNotFound)
	}

	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return fmt.Errorf("failed to unmarshal item from %s: %w", table, err)
	}
	return nil
}

// putNew writes item unless key already exists.
func (s *Store) putNew(ctx context.Context, table, key string, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item for %s: %w", table, err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#key)"),
		ExpressionAttributeNames: map[string]string{
			"#key": key,
		},
	}

	_, err = s.Client.PutItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create item in %s: %w", table, err)
	}
	return nil
}

// putVersioned replaces the item under key when the stored version equals expected.
// item must already carry expected+1 as its version.
func (s *Store) putVersioned(ctx context.Context, table, key string, item any, expected int64) error {
	input, err := versionedPut(table, key, item, expected)
	if err != nil {
		return err
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           input.TableName,
		Item:                                input.Item,
		ConditionExpression:                 input.ConditionExpression,
		ExpressionAttributeNames:            input.ExpressionAttributeNames,
		ExpressionAttributeValues:           input.ExpressionAttributeValues,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			// With ALL_OLD, a missing item comes back empty.
			if len(condCheckFailed.Item) == 0 {
				return storage.ErrNotFound
			}
			return storage.ErrVersionConflict
		}
		return fmt.Errorf("failed to update item in %s: %w", table, err)
	}
	return nil
}

// versionedPut builds the conditional put shared by single writes and transactions.
func versionedPut(table, key string, item any, expected int64) (*types.Put, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item for %s: %w", table, err)
	}
	return &types.Put{
		TableName:           aws.String(table),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(#key) AND version = :version"),
		ExpressionAttributeNames: map[string]string{
			"#key": key,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expected)},
		},
	}, nil
}

// queryAll pages through a query, unmarshalling every item into out.
func (s *Store) queryAll(ctx context.Context, input *dynamodb.QueryInput, out any) error {
	var items []map[string]types.AttributeValue
	for {
		result, err := s.Client.Query(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", aws.ToString(input.IndexName), err)
		}
		items = append(items, result.Items...)
		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal query results: %w", err)
	}
	return nil
}

// timeValue renders t the way attributevalue stores time.Time.
func timeValue(t time.Time) (types.AttributeValue, error) {
	text, err := t.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal time: %w", err)
	}
	return &types.AttributeValueMemberS{Value: string(text)}, nil
}

// transactWrite runs items in one transaction. A failed condition on any item
// returns ErrVersionConflict.
func (s *Store) transactWrite(ctx context.Context, what string, items []types.TransactWriteItem) error {
	_, err := s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var txCanceled *types.TransactionCanceledException
		if errors.As(err, &txCanceled) {
			for _, reason := range txCanceled.CancellationReasons {
				if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return storage.ErrVersionConflict
				}
			}
		}
		return fmt.Errorf("failed to execute %s transaction: %w", what, err)
	}
	return nil
}

// versionCheck asserts that the item under key/value is at version without writing it.
func versionCheck(table, key, value string, version int64) *types.ConditionCheck {
	return &types.ConditionCheck{
		TableName:           aws.String(table),
		Key:                 map[string]types.AttributeValue{key: &types.AttributeValueMemberS{Value: value}},
		ConditionExpression: aws.String("version = :version"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", version)},
		},
	}
}
