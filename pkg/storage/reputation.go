package storage

import (
	"context"

	"github.com/chris/tax-credit-settlement/pkg/models"
)

// ReputationStore defines the interface for persisting reputation profiles.
type ReputationStore interface {
	// GetProfile retrieves a user's profile. It returns ErrNotFound for unknown users.
	GetProfile(ctx context.Context, userID string) (*models.ReputationProfile, error)

	// SaveProfile creates the profile when its version is 0, otherwise performs a versioned write.
	SaveProfile(ctx context.Context, profile *models.ReputationProfile) error
}
