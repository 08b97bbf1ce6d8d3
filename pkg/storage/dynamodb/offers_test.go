package dynamodb

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/chris/tax-credit-settlement/pkg/storage"
	"github.com/chris/tax-credit-settlement/pkg/storage/dynamodb/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestListOffersByInstrument(t *testing.T) {
	mockClient := new(mocks.DynamoDBAPI)
	store := newTestStore(mockClient)

	o1, _ := attributevalue.MarshalMap(&models.Offer{Id: "o-1", InstrumentId: "tc-1", Status: models.OfferPending})
	o2, _ := attributevalue.MarshalMap(&models.Offer{Id: "o-2", InstrumentId: "tc-1", Status: models.OfferRejected})
	mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		v, ok := in.ExpressionAttributeValues[":instrument_id"].(*types.AttributeValueMemberS)
		return aws.ToString(in.IndexName) == offerInstrumentGSI && ok && v.Value == "tc-1"
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{o1, o2}}, nil)

	result, err := store.ListOffersByInstrument(context.Background(), "tc-1")

	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, models.OfferRejected, result[1].Status)
	mockClient.AssertExpectations(t)
}

func TestListExpiringOffers(t *testing.T) {
	mockClient := new(mocks.DynamoDBAPI)
	store := newTestStore(mockClient)
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		status, _ := in.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS)
		c, _ := in.ExpressionAttributeValues[":cutoff"].(*types.AttributeValueMemberS)
		return status != nil && status.Value == string(models.OfferPending) &&
			c != nil && c.Value == "2026-03-01T12:00:00Z"
	})).Return(&dynamodb.QueryOutput{}, nil)

	result, err := store.ListExpiringOffers(context.Background(), cutoff)

	assert.NoError(t, err)
	assert.Empty(t, result)
	mockClient.AssertExpectations(t)
}

func TestCreateOffer(t *testing.T) {
	mockClient := new(mocks.DynamoDBAPI)
	store := newTestStore(mockClient)

	mockClient.On("PutItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

	err := store.CreateOffer(context.Background(), &models.Offer{Id: "o-1"})

	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}
