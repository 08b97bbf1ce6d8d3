package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/chris/tax-credit-settlement/pkg/storage"
)

//go:generate mockery --name DynamoDBAPI --output ./mocks

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Tables names the table backing each aggregate.
type Tables struct {
	Instruments   string
	Auctions      string
	Offers        string
	Compensations string
	Profiles      string
}

// Store implements the Storage interface using AWS DynamoDB.
type Store struct {
	Client                 DynamoDBAPI
	InstrumentsTableName   string
	AuctionsTableName      string
	OffersTableName        string
	CompensationsTableName string
	ProfilesTableName      string
}

// New creates a new Store.
func New(client DynamoDBAPI, tables Tables) *Store {
	return &Store{
		Client:                 client,
		InstrumentsTableName:   tables.Instruments,
		AuctionsTableName:      tables.Auctions,
		OffersTableName:        tables.Offers,
		CompensationsTableName: tables.Compensations,
		ProfilesTableName:      tables.Profiles,
	}
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)
