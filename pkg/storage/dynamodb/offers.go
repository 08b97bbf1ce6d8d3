package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/tax-credit-settlement/pkg/models"
)

const (
	offerInstrumentGSI   = "instrument_id-created_at-index"
	offerStatusExpiryGSI = "status-expiry-index"
)

// GetOffer retrieves an offer from DynamoDB by its ID.
func (s *Store) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	var o models.Offer
	if err := s.getItem(ctx, s.OffersTableName, "id", id, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOffersByInstrument queries every offer on an instrument, oldest first.
func (s *Store) ListOffersByInstrument(ctx context.Context, instrumentID string) ([]models.Offer, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.OffersTableName),
		IndexName:              aws.String(offerInstrumentGSI),
		KeyConditionExpression: aws.String("instrument_id = :instrument_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":instrument_id": &types.AttributeValueMemberS{Value: instrumentID},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var offers []models.Offer
	if err := s.queryAll(ctx, input, &offers); err != nil {
		return nil, err
	}
	return offers, nil
}

// ListExpiringOffers queries pending offers whose expiry is at or before cutoff.
func (s *Store) ListExpiringOffers(ctx context.Context, cutoff time.Time) ([]models.Offer, error) {
	cutoffAV, err := timeValue(cutoff)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.OffersTableName),
		IndexName:              aws.String(offerStatusExpiryGSI),
		KeyConditionExpression: aws.String("#status = :status AND expiry <= :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(models.OfferPending)},
			":cutoff": cutoffAV,
		},
	}

	var offers []models.Offer
	if err := s.queryAll(ctx, input, &offers); err != nil {
		return nil, err
	}
	return offers, nil
}

// CreateOffer stores a new offer at version 1.
func (s *Store) CreateOffer(ctx context.Context, offer *models.Offer) error {
	item := offer.Clone()
	item.Version = 1
	if err := s.putNew(ctx, s.OffersTableName, "id", item); err != nil {
		return err
	}
	offer.Version = 1
	return nil
}

// UpdateOffer performs a versioned write.
func (s *Store) UpdateOffer(ctx context.Context, offer *models.Offer) error {
	item := offer.Clone()
	item.Version = offer.Version + 1
	if err := s.putVersioned(ctx, s.OffersTableName, "id", item, offer.Version); err != nil {
		return err
	}
	offer.Version = item.Version
	return nil
}
