package storage

import (
	"context"

	"github.com/chris/tax-credit-settlement/pkg/models"
)

// CompensationStore defines the interface for managing compensation requests.
type CompensationStore interface {
	// GetCompensation retrieves a request by its ID.
	GetCompensation(ctx context.Context, id string) (*models.CompensationRequest, error)

	// CreateCompensation stores a new request at version 1.
	CreateCompensation(ctx context.Context, req *models.CompensationRequest) error

	// UpdateCompensation performs a versioned write.
	UpdateCompensation(ctx context.Context, req *models.CompensationRequest) error
}
