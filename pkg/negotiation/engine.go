// Package negotiation handles bilateral offers on credit instruments.
package negotiation

import (
	"context"
	"errors"
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

// Store is the persistence the engine needs.
type Store interface {
	storage.InstrumentStore
	storage.OfferStore
}

// Engine holds the dependencies for offer operations. All writes touching an
// instrument's offers run under that instrument's lock.
type Engine struct {
	Store     Store
	Recorder  ledger.Recorder
	Publisher events.Publisher
	Logger    *slog.Logger

	locks *lock.Keyed
}

// NewEngine creates a new Engine. A nil publisher drops events; a nil logger uses slog.Default().
func NewEngine(store Store, recorder ledger.Recorder, publisher events.Publisher, logger *slog.Logger) *Engine {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:     store,
		Recorder:  recorder,
		Publisher: publisher,
		Logger:    logger,
		locks:     lock.NewKeyed(),
	}
}

// SubmitOfferInput describes a buyer's offer.
type SubmitOfferInput struct {
	InstrumentId string
	BuyerId      string
	Amount       int64
	Message      string
	ValidityDays int
}

// SubmitOffer records a pending offer below the instrument's nominal value.
func (e *Engine) SubmitOffer(ctx context.Context, in SubmitOfferInput, now time.Time) (*models.Offer, error) {
	if in.BuyerId == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "buyer id is required")
	}
	if in.ValidityDays <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "validity must be at least one day")
	}

	inst, err := e.Store.GetInstrument(ctx, in.InstrumentId)
	if err != nil {
		return nil, storage.DomainError(err, "instrument")
	}
	if in.Amount <= 0 || in.Amount >= inst.NominalValue {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidAmount,
			"offer must be positive and below the nominal value",
			map[string]string{"nominal_value": strconv.FormatInt(inst.NominalValue, 10)})
	}
	if !inst.Status.Negotiable() {
		return nil, apperrors.Newf(apperrors.CodeNotNegotiable, "instrument %s is %s", inst.Id, inst.Status)
	}
	if inst.OwnerId == in.BuyerId {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "owner cannot make an offer on their own instrument")
	}

	offer := &models.Offer{
		Id:               uuid.NewString(),
		InstrumentId:     inst.Id,
		BuyerId:          in.BuyerId,
		Amount:           in.Amount,
		Message:          in.Message,
		Expiry:           now.AddDate(0, 0, in.ValidityDays),
		Status:           models.OfferPending,
		InstrumentStatus: inst.Status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Store.CreateOffer(ctx, offer); err != nil {
		return nil, storage.DomainError(err, "offer")
	}
	return offer, nil
}

// GetOffer returns an offer by id.
func (e *Engine) GetOffer(ctx context.Context, offerID string) (*models.Offer, error) {
	offer, err := e.Store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, storage.DomainError(err, "offer")
	}
	return offer, nil
}

// ListOffers returns every offer made on an instrument, oldest first.
func (e *Engine) ListOffers(ctx context.Context, instrumentID string) ([]models.Offer, error) {
	offers, err := e.Store.ListOffersByInstrument(ctx, instrumentID)
	if err != nil {
		return nil, storage.DomainError(err, "offers")
	}
	return offers, nil
}

// lockOffer resolves the offer's instrument and takes its lock. The returned offer
// is re-read under the lock.
func (e *Engine) lockOffer(ctx context.Context, offerID string) (*models.Offer, func(), error) {
	offer, err := e.Store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, nil, storage.DomainError(err, "offer")
	}
	unlock := e.locks.Lock(offer.InstrumentId)
	offer, err = e.Store.GetOffer(ctx, offerID)
	if err != nil {
		unlock()
		return nil, nil, storage.DomainError(err, "offer")
	}
	return offer, unlock, nil
}

// AcceptOffer accepts a pending offer, reserves the instrument for the buyer and
// rejects every other pending offer on it.
func (e *Engine) AcceptOffer(ctx context.Context, offerID string, now time.Time) (*models.Offer, error) {
	offer, rejected, err := e.accept(ctx, offerID, now)
	if err != nil {
		return nil, err
	}

	rec := ledger.NewRecord(ledger.RecordOfferAccepted, offer.InstrumentId, "offer:"+offer.Id+":accepted", now, map[string]string{
		"offer_id": offer.Id,
		"buyer_id": offer.BuyerId,
		"amount":   ledger.Amount(offer.Amount),
	})
	if _, err := ledger.Commit(ctx, e.Logger, e.Recorder, rec, e.unacceptOffer(offer, rejected, now)); err != nil {
		return nil, err
	}

	e.publish(ctx, events.TypeOfferAccepted, offer.InstrumentId, now, map[string]string{
		"offer_id": offer.Id,
		"buyer_id": offer.BuyerId,
		"amount":   ledger.Amount(offer.Amount),
	})
	return offer, nil
}

func (e *Engine) accept(ctx context.Context, offerID string, now time.Time) (*models.Offer, []string, error) {
	offer, unlock, err := e.lockOffer(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	// 1. The offer must still be pending and inside its window.
	if offer.Status == models.OfferPending && offer.Expired(now) {
		offer.Status = models.OfferExpired
		offer.UpdatedAt = now
		if err := e.Store.UpdateOffer(ctx, offer); err != nil {
			e.Logger.WarnContext(ctx, "failed to mark offer expired",
				slog.String("offer_id", offer.Id),
				slog.String("error", err.Error()))
		}
		return nil, nil, apperrors.Newf(apperrors.CodeExpired, "offer %s expired at %s",
			offer.Id, offer.Expiry.UTC().Format(time.RFC3339))
	}
	if offer.Status != models.OfferPending {
		return nil, nil, apperrors.Newf(apperrors.CodeConflict, "offer %s is %s", offer.Id, offer.Status)
	}

	// 2. The instrument must be where the buyer saw it.
	inst, err := e.Store.GetInstrument(ctx, offer.InstrumentId)
	if err != nil {
		return nil, nil, storage.DomainError(err, "instrument")
	}
	if inst.Status != offer.InstrumentStatus || !inst.Status.Negotiable() {
		return nil, nil, apperrors.WithMetadata(apperrors.CodeConflict,
			"instrument status changed since the offer was made",
			map[string]string{"status": string(inst.Status)})
	}

	// 3. Reserve it. A concurrent writer makes the versioned write fail.
	if !inst.Reserve(offer.BuyerId, now) {
		return nil, nil, apperrors.Newf(apperrors.CodeConflict, "instrument %s cannot be reserved from %s", inst.Id, inst.Status)
	}
	if err := e.Store.UpdateInstrument(ctx, inst); err != nil {
		return nil, nil, storage.DomainError(err, "instrument")
	}

	// 4. Accept the offer, releasing the instrument if that fails.
	offer.Status = models.OfferAccepted
	offer.UpdatedAt = now
	if err := e.Store.UpdateOffer(ctx, offer); err != nil {
		if inst.Release(now) {
			if relErr := e.Store.UpdateInstrument(ctx, inst); relErr != nil {
				err = errors.Join(err, relErr)
			}
		}
		return nil, nil, storage.DomainError(err, "offer")
	}

	// 5. Reject the competing offers.
	rejected, err := e.rejectPending(ctx, offer.InstrumentId, offer.Id, now)
	if err != nil {
		e.Logger.WarnContext(ctx, "failed to reject competing offers",
			slog.String("instrument_id", offer.InstrumentId),
			slog.String("error", err.Error()))
	}
	return offer, rejected, nil
}

func (e *Engine) rejectPending(ctx context.Context, instrumentID, acceptedID string, now time.Time) ([]string, error) {
	offers, err := e.Store.ListOffersByInstrument(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	var (
		rejected []string
		errs     []error
	)
	for i := range offers {
		o := &offers[i]
		if o.Id == acceptedID || o.Status != models.OfferPending {
			continue
		}
		o.Status = models.OfferRejected
		o.UpdatedAt = now
		if err := e.Store.UpdateOffer(ctx, o); err != nil {
			errs = append(errs, err)
			continue
		}
		rejected = append(rejected, o.Id)
	}
	return rejected, errors.Join(errs...)
}

// unacceptOffer puts the offers and the instrument back when the acceptance could
// not be recorded.
func (e *Engine) unacceptOffer(accepted *models.Offer, rejected []string, now time.Time) ledger.RollbackFunc {
	return func(ctx context.Context) error {
		unlock := e.locks.Lock(accepted.InstrumentId)
		defer unlock()

		var errs []error
		for _, id := range append([]string{accepted.Id}, rejected...) {
			o, err := e.Store.GetOffer(ctx, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			o.Status = models.OfferPending
			o.UpdatedAt = now
			if err := e.Store.UpdateOffer(ctx, o); err != nil {
				errs = append(errs, err)
			}
		}

		inst, err := e.Store.GetInstrument(ctx, accepted.InstrumentId)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		if inst.Release(now) {
			if err := e.Store.UpdateInstrument(ctx, inst); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// RejectOffer declines a pending offer.
func (e *Engine) RejectOffer(ctx context.Context, offerID string, now time.Time) (*models.Offer, error) {
	offer, unlock, err := e.lockOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if offer.Status != models.OfferPending {
		return nil, apperrors.Newf(apperrors.CodeConflict, "offer %s is %s", offer.Id, offer.Status)
	}
	offer.Status = models.OfferRejected
	offer.UpdatedAt = now
	if err := e.Store.UpdateOffer(ctx, offer); err != nil {
		return nil, storage.DomainError(err, "offer")
	}
	return offer, nil
}

// ExpireOffers moves every pending offer whose expiry is at or before now to Expired
// and returns how many changed.
func (e *Engine) ExpireOffers(ctx context.Context, now time.Time) (int, error) {
	due, err := e.Store.ListExpiringOffers(ctx, now)
	if err != nil {
		return 0, storage.DomainError(err, "offers")
	}

	expired := 0
	var errs []error
	for _, o := range due {
		ok, err := e.expire(ctx, o.Id, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

func (e *Engine) expire(ctx context.Context, offerID string, now time.Time) (bool, error) {
	offer, unlock, err := e.lockOffer(ctx, offerID)
	if err != nil {
		return false, err
	}
	defer unlock()

	if offer.Status != models.OfferPending || !offer.Expired(now) {
		return false, nil
	}
	offer.Status = models.OfferExpired
	offer.UpdatedAt = now
	if err := e.Store.UpdateOffer(ctx, offer); err != nil {
		return false, storage.DomainError(err, "offer")
	}
	return true, nil
}

func (e *Engine) publish(ctx context.Context, typ events.Type, aggregateID string, now time.Time, payload map[string]string) {
	err := e.Publisher.Publish(ctx, events.Event{
		Id:          uuid.NewString(),
		Type:        typ,
		AggregateId: aggregateID,
		OccurredAt:  now,
		Payload:     payload,
	})
	if err != nil {
		e.Logger.ErrorContext(ctx, "failed to publish event",
			slog.String("type", string(typ)),
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()))
	}
}
