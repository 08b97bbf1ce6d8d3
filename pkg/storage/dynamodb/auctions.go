package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/tax-credit-settlement/pkg/models"
)

const auctionStatusEndTimeGSI = "status-end_time-index"

// GetAuction retrieves an auction from DynamoDB by its ID.
func (s *Store) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	var a models.Auction
	if err := s.getItem(ctx, s.AuctionsTableName, "id", id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListDueAuctions queries open auctions ending at or before cutoff, earliest first.
func (s *Store) ListDueAuctions(ctx context.Context, cutoff time.Time) ([]models.Auction, error) {
	cutoffAV, err := timeValue(cutoff)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.AuctionsTableName),
		IndexName:              aws.String(auctionStatusEndTimeGSI),
		KeyConditionExpression: aws.String("#status = :status AND end_time <= :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(models.AuctionOpen)},
			":cutoff": cutoffAV,
		},
		ScanIndexForward: aws.Bool(true),
	}

	var auctions []models.Auction
	if err := s.queryAll(ctx, input, &auctions); err != nil {
		return nil, err
	}
	return auctions, nil
}

// CreateAuction stores a new auction at version 1.
func (s *Store) CreateAuction(ctx context.Context, auction *models.Auction) error {
	item := auction.Clone()
	item.Version = 1
	if err := s.putNew(ctx, s.AuctionsTableName, "id", item); err != nil {
		return err
	}
	auction.Version = 1
	return nil
}

// UpdateAuction performs a versioned write.
func (s *Store) UpdateAuction(ctx context.Context, auction *models.Auction) error {
	item := auction.Clone()
	item.Version = auction.Version + 1
	if err := s.putVersioned(ctx, s.AuctionsTableName, "id", item, auction.Version); err != nil {
		return err
	}
	auction.Version = item.Version
	return nil
}

// UpdateAuctionIfInstrument writes the auction and checks the instrument's version
// in one transaction.
func (s *Store) UpdateAuctionIfInstrument(ctx context.Context, auction *models.Auction, instrumentID string, instrumentVersion int64) error {
	item := auction.Clone()
	item.Version = auction.Version + 1
	put, err := versionedPut(s.AuctionsTableName, "id", item, auction.Version)
	if err != nil {
		return err
	}

	items := []types.TransactWriteItem{
		{ConditionCheck: versionCheck(s.InstrumentsTableName, "id", instrumentID, instrumentVersion)},
		{Put: put},
	}
	if err := s.transactWrite(ctx, "bid", items); err != nil {
		return err
	}
	auction.Version = item.Version
	return nil
}
