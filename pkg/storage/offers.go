package storage

import (
	"context"
	"time"

	"github.com/chris/tax-credit-settlement/pkg/models"
)

// OfferStore defines the interface for managing negotiation offers.
type OfferStore interface {
	// GetOffer retrieves an offer by its ID.
	GetOffer(ctx context.Context, id string) (*models.Offer, error)

	// ListOffersByInstrument retrieves every offer made on an instrument, oldest first.
	ListOffersByInstrument(ctx context.Context, instrumentID string) ([]models.Offer, error)

	// ListExpiringOffers retrieves pending offers whose expiry is at or before cutoff.
	ListExpiringOffers(ctx context.Context, cutoff time.Time) ([]models.Offer, error)

	// CreateOffer stores a new offer at version 1.
	CreateOffer(ctx context.Context, offer *models.Offer) error

	// UpdateOffer performs a versioned write.
	UpdateOffer(ctx context.Context, offer *models.Offer) error
}
