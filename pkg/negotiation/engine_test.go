package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/chris/tax-credit-settlement/pkg/errors"
	"github.com/chris/tax-credit-settlement/pkg/events"
	"github.com/chris/tax-credit-settlement/pkg/ledger"
	"github.com/chris/tax-credit-settlement/pkg/ledger/mocks"
	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/chris/tax-credit-settlement/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(ctx context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func newTestEngine(t *testing.T, status models.InstrumentStatus) (*Engine, *memory.Store, *ledger.MemoryRecorder, *capturePublisher) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.CreateInstrument(context.Background(), &models.CreditInstrument{
		Id:               "tc-1",
		OwnerId:          "seller",
		Category:         "ICMS",
		NominalValue:     100000,
		RemainingBalance: 100000,
		Status:           status,
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}))
	recorder := ledger.NewMemoryRecorder()
	pub := &capturePublisher{}
	return NewEngine(store, recorder, pub, nil), store, recorder, pub
}

func submit(t *testing.T, e *Engine, buyer string, amount int64) *models.Offer {
	t.Helper()
	offer, err := e.SubmitOffer(context.Background(), SubmitOfferInput{
		InstrumentId: "tc-1",
		BuyerId:      buyer,
		Amount:       amount,
		ValidityDays: 7,
	}, t0)
	require.NoError(t, err)
	return offer
}

func TestSubmitOffer(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		e, _, _, _ := newTestEngine(t, models.InstrumentAvailable)

		offer, err := e.SubmitOffer(ctx, SubmitOfferInput{
			InstrumentId: "tc-1",
			BuyerId:      "buyer-1",
			Amount:       92000,
			Message:      "ready to settle this week",
			ValidityDays: 5,
		}, t0)

		require.NoError(t, err)
		assert.Equal(t, models.OfferPending, offer.Status)
		assert.Equal(t, models.InstrumentAvailable, offer.InstrumentStatus)
		assert.Equal(t, t0.AddDate(0, 0, 5), offer.Expiry)
		assert.Equal(t, int64(1), offer.Version)
	})

	t.Run("Amount at or above nominal", func(t *testing.T) {
		e, _, _, _ := newTestEngine(t, models.InstrumentAvailable)

		_, err := e.SubmitOffer(ctx, SubmitOfferInput{InstrumentId: "tc-1", BuyerId: "buyer-1", Amount: 120000, ValidityDays: 7}, t0)
		require.ErrorIs(t, err, apperrors.ErrInvalidAmount)
		appErr, _ := apperrors.As(err)
		assert.Equal(t, "100000", appErr.Metadata["nominal_value"])

		_, err = e.SubmitOffer(ctx, SubmitOfferInput{InstrumentId: "tc-1", BuyerId: "buyer-1", Amount: 100000, ValidityDays: 7}, t0)
		assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

		_, err = e.SubmitOffer(ctx, SubmitOfferInput{InstrumentId: "tc-1", BuyerId: "buyer-1", Amount: 0, ValidityDays: 7}, t0)
		assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	})

	t.Run("Instrument not negotiable", func(t *testing.T) {
		for _, status := range []models.InstrumentStatus{models.InstrumentDraft, models.InstrumentReserved, models.InstrumentCompensated} {
			e, _, _, _ := newTestEngine(t, status)

			_, err := e.SubmitOffer(ctx, SubmitOfferInput{InstrumentId: "tc-1", BuyerId: "buyer-1", Amount: 90000, ValidityDays: 7}, t0)

			assert.ErrorIs(t, err, apperrors.ErrNotNegotiable, status)
		}
	})

	t.Run("Invalid input", func(t *testing.T) {
		e, _, _, _ := newTestEngine(t, models.InstrumentTokenized)

		_, err := e.SubmitOffer(ctx, SubmitOfferInput{InstrumentId: "tc-1", BuyerId: "buyer-1", Amount: 90000}, t0)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

		_, err = e.SubmitOffer(ctx, SubmitOfferInput{InstrumentId: "tc-1", BuyerId: "seller", Amount: 90000, ValidityDays: 7}, t0)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

		_, err = e.SubmitOffer(ctx, SubmitOfferInput{InstrumentId: "missing", BuyerId: "buyer-1", Amount: 90000, ValidityDays: 7}, t0)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestAcceptOffer(t *testing.T) {
	ctx := context.Background()

	t.Run("Success rejects competing offers", func(t *testing.T) {
		e, store, recorder, pub := newTestEngine(t, models.InstrumentTokenized)
		first := submit(t, e, "buyer-1", 90000)
		second := submit(t, e, "buyer-2", 91000)

		accepted, err := e.AcceptOffer(ctx, second.Id, t0.Add(time.Hour))

		require.NoError(t, err)
		assert.Equal(t, models.OfferAccepted, accepted.Status)

		other, err := e.GetOffer(ctx, first.Id)
		require.NoError(t, err)
		assert.Equal(t, models.OfferRejected, other.Status)

		inst, err := store.GetInstrument(ctx, "tc-1")
		require.NoError(t, err)
		assert.Equal(t, models.InstrumentReserved, inst.Status)
		assert.Equal(t, models.InstrumentTokenized, inst.ReservedFrom)
		assert.Equal(t, "buyer-2", inst.ReservedFor)

		history, err := recorder.History(ctx, "tc-1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, ledger.RecordOfferAccepted, history[0].Type)
		assert.Equal(t, second.Id, history[0].Payload["offer_id"])
		require.Len(t, pub.events, 1)
		assert.Equal(t, events.TypeOfferAccepted, pub.events[0].Type)
	})

	t.Run("Expired", func(t *testing.T) {
		e, _, _, _ := newTestEngine(t, models.InstrumentAvailable)
		offer := submit(t, e, "buyer-1", 90000)

		_, err := e.AcceptOffer(ctx, offer.Id, offer.Expiry)

		assert.ErrorIs(t, err, apperrors.ErrExpired)
		stored, err := e.GetOffer(ctx, offer.Id)
		require.NoError(t, err)
		assert.Equal(t, models.OfferExpired, stored.Status)
	})

	t.Run("Not pending", func(t *testing.T) {
		e, _, _, _ := newTestEngine(t, models.InstrumentAvailable)
		offer := submit(t, e, "buyer-1", 90000)
		_, err := e.RejectOffer(ctx, offer.Id, t0)
		require.NoError(t, err)

		_, err = e.AcceptOffer(ctx, offer.Id, t0)

		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("Instrument status changed", func(t *testing.T) {
		e, store, _, _ := newTestEngine(t, models.InstrumentAvailable)
		offer := submit(t, e, "buyer-1", 90000)
		inst, err := store.GetInstrument(ctx, "tc-1")
		require.NoError(t, err)
		inst.Status = models.InstrumentTokenized
		require.NoError(t, store.UpdateInstrument(ctx, inst))

		_, err = e.AcceptOffer(ctx, offer.Id, t0)

		require.ErrorIs(t, err, apperrors.ErrConflict)
		appErr, _ := apperrors.As(err)
		assert.True(t, appErr.Retryable())
	})

	t.Run("Concurrent accepts on one instrument", func(t *testing.T) {
		e, store, _, _ := newTestEngine(t, models.InstrumentTokenized)
		offers := []*models.Offer{submit(t, e, "buyer-1", 90000), submit(t, e, "buyer-2", 91000)}

		var wg sync.WaitGroup
		errs := make([]error, len(offers))
		for i, o := range offers {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				_, errs[i] = e.AcceptOffer(ctx, id, t0.Add(time.Minute))
			}(i, o.Id)
		}
		wg.Wait()

		succeeded, conflicted := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperrors.ErrConflict):
				conflicted++
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, conflicted)

		list, err := e.ListOffers(ctx, "tc-1")
		require.NoError(t, err)
		statuses := map[models.OfferStatus]int{}
		for _, o := range list {
			statuses[o.Status]++
		}
		assert.Equal(t, map[models.OfferStatus]int{models.OfferAccepted: 1, models.OfferRejected: 1}, statuses)

		inst, err := store.GetInstrument(ctx, "tc-1")
		require.NoError(t, err)
		assert.Equal(t, models.InstrumentReserved, inst.Status)
	})

	t.Run("Ledger failure restores offers and instrument", func(t *testing.T) {
		e, store, _, pub := newTestEngine(t, models.InstrumentTokenized)
		first := submit(t, e, "buyer-1", 90000)
		second := submit(t, e, "buyer-2", 91000)
		recorder := new(mocks.Recorder)
		recorder.On("Append", mock.Anything, mock.Anything).Return(ledger.Receipt{}, errors.New("ledger unavailable"))
		e.Recorder = recorder

		_, err := e.AcceptOffer(ctx, first.Id, t0)

		assert.ErrorIs(t, err, apperrors.ErrDegraded)
		for _, id := range []string{first.Id, second.Id} {
			o, err := e.GetOffer(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.OfferPending, o.Status)
		}
		inst, err := store.GetInstrument(ctx, "tc-1")
		require.NoError(t, err)
		assert.Equal(t, models.InstrumentTokenized, inst.Status)
		assert.Empty(t, pub.events)
	})
}

func TestRejectOffer(t *testing.T) {
	ctx := context.Background()
	e, _, recorder, _ := newTestEngine(t, models.InstrumentAvailable)
	offer := submit(t, e, "buyer-1", 90000)

	rejected, err := e.RejectOffer(ctx, offer.Id, t0)

	require.NoError(t, err)
	assert.Equal(t, models.OfferRejected, rejected.Status)
	assert.Equal(t, 0, recorder.Len())

	_, err = e.RejectOffer(ctx, offer.Id, t0)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = e.RejectOffer(ctx, "missing", t0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestExpireOffers(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newTestEngine(t, models.InstrumentAvailable)
	short, err := e.SubmitOffer(ctx, SubmitOfferInput{InstrumentId: "tc-1", BuyerId: "buyer-1", Amount: 90000, ValidityDays: 1}, t0)
	require.NoError(t, err)
	long := submit(t, e, "buyer-2", 91000)

	expired, err := e.ExpireOffers(ctx, t0.AddDate(0, 0, 2))

	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	got, err := e.GetOffer(ctx, short.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OfferExpired, got.Status)
	got, err = e.GetOffer(ctx, long.Id)
	require.NoError(t, err)
	assert.Equal(t, models.OfferPending, got.Status)

	expired, err = e.ExpireOffers(ctx, t0.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Zero(t, expired)
}
