package storage

import (
	"context"
	"time"

	"github.com/chris/tax-credit-settlement/pkg/models"
)

// AuctionReader defines the interface for reading auction data.
type AuctionReader interface {
	// GetAuction retrieves an auction by its ID.
	GetAuction(ctx context.Context, id string) (*models.Auction, error)

	// ListDueAuctions retrieves open auctions whose end time is at or before cutoff.
	ListDueAuctions(ctx context.Context, cutoff time.Time) ([]models.Auction, error)
}

// AuctionManager defines the interface for creating and updating auctions.
type AuctionManager interface {
	// CreateAuction stores a new auction at version 1.
	CreateAuction(ctx context.Context, auction *models.Auction) error

	// UpdateAuction performs a versioned write, see InstrumentStore.UpdateInstrument.
	UpdateAuction(ctx context.Context, auction *models.Auction) error

	// UpdateAuctionIfInstrument performs the versioned auction write only while the
	// instrument is still at instrumentVersion, atomically with that check. A moved
	// instrument returns ErrVersionConflict and leaves the auction untouched.
	UpdateAuctionIfInstrument(ctx context.Context, auction *models.Auction, instrumentID string, instrumentVersion int64) error
}

// AuctionStore combines the reader and manager interfaces.
type AuctionStore interface {
	AuctionReader
	AuctionManager
}
