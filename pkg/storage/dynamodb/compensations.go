package dynamodb

import (
	"context"

	"github.com/chris/tax-credit-settlement/pkg/models"
)

// GetCompensation retrieves a compensation request from DynamoDB by its ID.
func (s *Store) GetCompensation(ctx context.Context, id string) (*models.CompensationRequest, error) {
	var req models.CompensationRequest
	if err := s.getItem(ctx, s.CompensationsTableName, "id", id, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// CreateCompensation stores a new request at version 1.
func (s *Store) CreateCompensation(ctx context.Context, req *models.CompensationRequest) error {
	item := req.Clone()
	item.Version = 1
	if err := s.putNew(ctx, s.CompensationsTableName, "id", item); err != nil {
		return err
	}
	req.Version = 1
	return nil
}

// UpdateCompensation performs a versioned write.
func (s *Store) UpdateCompensation(ctx context.Context, req *models.CompensationRequest) error {
	item := req.Clone()
	item.Version = req.Version + 1
	if err := s.putVersioned(ctx, s.CompensationsTableName, "id", item, req.Version); err != nil {
		return err
	}
	req.Version = item.Version
	return nil
}
