package storage

import (
	"context"

	"github.com/chris/tax-credit-settlement/pkg/models"
)

// InstrumentStore defines the interface for managing credit instruments.
type InstrumentStore interface {
	// GetInstrument retrieves an instrument by its ID.
	GetInstrument(ctx context.Context, id string) (*models.CreditInstrument, error)

	// CreateInstrument stores a new instrument at version 1.
	CreateInstrument(ctx context.Context, inst *models.CreditInstrument) error

	// UpdateInstrument writes inst if the stored version still equals inst.Version,
	// then increments inst.Version. It returns ErrVersionConflict otherwise.
	UpdateInstrument(ctx context.Context, inst *models.CreditInstrument) error

	// UpdateInstruments performs the versioned writes of every instrument atomically:
	// either all are written and their versions incremented, or none is.
	UpdateInstruments(ctx context.Context, insts ...*models.CreditInstrument) error
}
