package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/tax-credit-settlement/pkg/models"
)

// maxTransactItems is the DynamoDB limit on items in one TransactWriteItems call.
const maxTransactItems = 100

// GetInstrument retrieves an instrument from DynamoDB by its ID.
func (s *Store) GetInstrument(ctx context.Context, id string) (*models.CreditInstrument, error) {
	var inst models.CreditInstrument
	if err := s.getItem(ctx, s.InstrumentsTableName, "id", id, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// CreateInstrument stores a new instrument at version 1.
func (s *Store) CreateInstrument(ctx context.Context, inst *models.CreditInstrument) error {
	item := inst.Clone()
	item.Version = 1
	if err := s.putNew(ctx, s.InstrumentsTableName, "id", item); err != nil {
		return err
	}
	inst.Version = 1
	return nil
}

// UpdateInstrument performs a versioned write.
func (s *Store) UpdateInstrument(ctx context.Context, inst *models.CreditInstrument) error {
	item := inst.Clone()
	item.Version = inst.Version + 1
	if err := s.putVersioned(ctx, s.InstrumentsTableName, "id", item, inst.Version); err != nil {
		return err
	}
	inst.Version = item.Version
	return nil
}

// UpdateInstruments performs every versioned write in one DynamoDB transaction.
func (s *Store) UpdateInstruments(ctx context.Context, insts ...*models.CreditInstrument) error {
	if len(insts) == 0 {
		return nil
	}
	if len(insts) > maxTransactItems {
		return fmt.Errorf("cannot update %d instruments in one transaction, limit is %d", len(insts), maxTransactItems)
	}

	// 1. Build one conditional put per instrument.
	items := make([]types.TransactWriteItem, 0, len(insts))
	for _, inst := range insts {
		item := inst.Clone()
		item.Version = inst.Version + 1
		put, err := versionedPut(s.InstrumentsTableName, "id", item, inst.Version)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Put: put})
	}

	// 2. Execute the transaction.
	if err := s.transactWrite(ctx, "instrument", items); err != nil {
		return err
	}

	// 3. Reflect the new versions back to the caller.
	for _, inst := range insts {
		inst.Version++
	}
	return nil
}
