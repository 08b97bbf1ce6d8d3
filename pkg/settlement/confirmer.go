// Package settlement confirms the hand-over of a reserved instrument to its buyer.
package settlement

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	apperrors "github.com/chris/tax-credit-settlement/pkg/errors"
	"github.com/chris/tax-credit-settlement/pkg/events"
	"github.com/chris/tax-credit-settlement/pkg/ledger"
	"github.com/chris/tax-credit-settlement/pkg/lock"
	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/chris/tax-credit-settlement/pkg/storage"
	"github.com/google/uuid"
)

// SettlementObserver is told about both sides of every confirmed transfer.
type SettlementObserver interface {
	OnSettlement(ctx context.Context, userID string, role models.Role, outcome models.Outcome) (*models.ReputationProfile, error)
}

// TransferInput identifies a transfer and how it ended.
type TransferInput struct {
	InstrumentId string
	SellerId     string
	BuyerId      string
	Outcome      models.Outcome
}

func (in TransferInput) validate() error {
	switch {
	case in.InstrumentId == "":
		return apperrors.New(apperrors.CodeInvalidInput, "instrument id is required")
	case in.SellerId == "" || in.BuyerId == "":
		return apperrors.New(apperrors.CodeInvalidInput, "seller and buyer are required")
	case in.SellerId == in.BuyerId:
		return apperrors.New(apperrors.CodeInvalidInput, "seller and buyer must differ")
	}
	switch in.Outcome {
	case models.OutcomeSuccess, models.OutcomeFailure:
		return nil
	}
	return apperrors.Newf(apperrors.CodeInvalidInput, "unknown outcome %q", in.Outcome)
}

// Confirmer settles reserved instruments.
type Confirmer struct {
	Store      storage.InstrumentStore
	Recorder   ledger.Recorder
	Publisher  events.Publisher
	Reputation SettlementObserver
	Logger     *slog.Logger

	locks *lock.Keyed
}

// NewConfirmer creates a new Confirmer.
func NewConfirmer(store storage.InstrumentStore, recorder ledger.Recorder, publisher events.Publisher, reputation SettlementObserver, logger *slog.Logger) *Confirmer {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Confirmer{
		Store:      store,
		Recorder:   recorder,
		Publisher:  publisher,
		Reputation: reputation,
		Logger:     logger,
		locks:      lock.NewKeyed(),
	}
}

// ConfirmTransfer completes or abandons the transfer of a reserved instrument.
// Only the buyer it was reserved for can settle it. On success the buyer becomes
// the owner and the instrument is available again; on failure the reservation is
// released. Both parties' reputations are updated.
func (c *Confirmer) ConfirmTransfer(ctx context.Context, in TransferInput, now time.Time) (*models.CreditInstrument, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	inst, before, err := c.apply(ctx, in, now)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		"seller_id": in.SellerId,
		"buyer_id":  in.BuyerId,
		"outcome":   string(in.Outcome),
	}
	key := "transfer:" + inst.Id + ":" + strconv.FormatInt(inst.Version, 10)
	rec := ledger.NewRecord(ledger.RecordTransferConfirmed, inst.Id, key, now, payload)
	if _, err := ledger.Commit(ctx, c.Logger, c.Recorder, rec, c.revert(before, now)); err != nil {
		return nil, err
	}

	c.publish(ctx, inst.Id, now, payload)
	if c.Reputation != nil {
		for _, party := range []struct {
			id   string
			role models.Role
		}{{in.BuyerId, models.RoleBuyer}, {in.SellerId, models.RoleSeller}} {
			if _, err := c.Reputation.OnSettlement(ctx, party.id, party.role, in.Outcome); err != nil {
				c.Logger.ErrorContext(ctx, "failed to update reputation",
					slog.String("user_id", party.id),
					slog.String("error", err.Error()))
			}
		}
	}
	return inst, nil
}

// apply performs the local transition and returns the instrument before and after it.
func (c *Confirmer) apply(ctx context.Context, in TransferInput, now time.Time) (*models.CreditInstrument, *models.CreditInstrument, error) {
	unlock := c.locks.Lock(in.InstrumentId)
	defer unlock()

	inst, err := c.Store.GetInstrument(ctx, in.InstrumentId)
	if err != nil {
		return nil, nil, storage.DomainError(err, "instrument")
	}
	if inst.Status != models.InstrumentReserved {
		return nil, nil, apperrors.Newf(apperrors.CodeConflict, "instrument %s is %s, not reserved", inst.Id, inst.Status)
	}
	if inst.OwnerId != in.SellerId {
		return nil, nil, apperrors.Newf(apperrors.CodeInvalidInput, "instrument %s is not owned by %s", inst.Id, in.SellerId)
	}
	if inst.ReservedFor != in.BuyerId {
		return nil, nil, apperrors.Newf(apperrors.CodeInvalidInput, "instrument %s is not reserved for %s", inst.Id, in.BuyerId)
	}
	before := inst.Clone()

	switch in.Outcome {
	case models.OutcomeSuccess:
		inst.OwnerId = in.BuyerId
		inst.Status = models.InstrumentAvailable
		inst.ReservedFrom = ""
		inst.ReservedFor = ""
		inst.UpdatedAt = now
	case models.OutcomeFailure:
		inst.Release(now)
	}
	if err := c.Store.UpdateInstrument(ctx, inst); err != nil {
		return nil, nil, storage.DomainError(err, "instrument")
	}
	return inst, before, nil
}

// revert puts the reservation back when the transfer could not be recorded.
func (c *Confirmer) revert(before *models.CreditInstrument, now time.Time) ledger.RollbackFunc {
	return func(ctx context.Context) error {
		unlock := c.locks.Lock(before.Id)
		defer unlock()

		inst, err := c.Store.GetInstrument(ctx, before.Id)
		if err != nil {
			return err
		}
		inst.OwnerId = before.OwnerId
		inst.Status = before.Status
		inst.ReservedFrom = before.ReservedFrom
		inst.ReservedFor = before.ReservedFor
		inst.UpdatedAt = now
		return c.Store.UpdateInstrument(ctx, inst)
	}
}

func (c *Confirmer) publish(ctx context.Context, instrumentID string, now time.Time, payload map[string]string) {
	err := c.Publisher.Publish(ctx, events.Event{
		Id:          uuid.NewString(),
		Type:        events.TypeTransferConfirmed,
		AggregateId: instrumentID,
		OccurredAt:  now,
		Payload:     payload,
	})
	if err != nil {
		c.Logger.ErrorContext(ctx, "failed to publish event",
			slog.String("type", string(events.TypeTransferConfirmed)),
			slog.String("aggregate_id", instrumentID),
			slog.String("error", err.Error()))
	}
}
