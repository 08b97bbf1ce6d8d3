package auction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/chris/tax-credit-settlement/pkg/errors"
	"github.com/chris/tax-credit-settlement/pkg/events"
	"github.com/chris/tax-credit-settlement/pkg/ledger"
	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/chris/tax-credit-settlement/pkg/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Close outcomes carried in the AuctionClosed record.
const (
	OutcomeSold                  = "sold"
	OutcomeNoBids                = "no_bids"
	OutcomeInstrumentUnavailable = "instrument_unavailable"
)

// CloseAuction ends an auction whose window is over. The highest bidder wins and the
// instrument is reserved for the transfer. Without bids the instrument stays tokenized.
func (e *Engine) CloseAuction(ctx context.Context, auctionID string, now time.Time) (*models.Auction, error) {
	auction, reserved, outcome, err := e.close(ctx, auctionID, now)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		"instrument_id": auction.InstrumentId,
		"outcome":       outcome,
	}
	if auction.WinnerId != "" {
		payload["winner_id"] = auction.WinnerId
		payload["amount"] = ledger.Amount(auction.CurrentBid)
	}
	rec := ledger.NewRecord(ledger.RecordAuctionClosed, auction.Id, "auction:"+auction.Id+":closed", now, payload)
	if _, err := ledger.Commit(ctx, e.Logger, e.Recorder, rec, e.reopenAuction(auction.Id, reserved, now)); err != nil {
		return nil, err
	}

	e.publish(ctx, events.TypeAuctionClosed, auction.Id, now, payload)
	return auction, nil
}

func (e *Engine) close(ctx context.Context, auctionID string, now time.Time) (*models.Auction, bool, string, error) {
	unlock := e.locks.Lock(auctionID)
	defer unlock()

	auction, err := e.Store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, false, "", storage.DomainError(err, "auction")
	}

	// 1. Only an open auction past its end time can close.
	if auction.Status == models.AuctionClosed {
		return nil, false, "", apperrors.Newf(apperrors.CodeConflict, "auction %s is already closed", auction.Id)
	}
	if !auction.Ended(now) {
		return nil, false, "", apperrors.WithMetadata(apperrors.CodeAuctionStillOpen,
			"auction is still open",
			map[string]string{"end_time": auction.EndTime.UTC().Format(time.RFC3339)})
	}

	// 2. Reserve the instrument for the highest bidder.
	outcome := OutcomeNoBids
	var inst *models.CreditInstrument
	if highest, ok := auction.HighestBid(); ok {
		inst, err = e.Store.GetInstrument(ctx, auction.InstrumentId)
		if err != nil {
			return nil, false, "", storage.DomainError(err, "instrument")
		}
		if inst.Status == models.InstrumentTokenized && inst.Reserve(highest.BidderId, now) {
			if err := e.Store.UpdateInstrument(ctx, inst); err != nil {
				return nil, false, "", storage.DomainError(err, "instrument")
			}
			auction.WinnerId = highest.BidderId
			outcome = OutcomeSold
		} else {
			e.Logger.WarnContext(ctx, "closing auction without a winner, instrument left auction",
				slog.String("auction_id", auction.Id),
				slog.String("instrument_id", inst.Id),
				slog.String("status", string(inst.Status)))
			inst = nil
			outcome = OutcomeInstrumentUnavailable
		}
	}

	// 3. Close the auction, undoing the reservation if the write fails.
	auction.Status = models.AuctionClosed
	auction.UpdatedAt = now
	if err := e.Store.UpdateAuction(ctx, auction); err != nil {
		if inst != nil && inst.Release(now) {
			if relErr := e.Store.UpdateInstrument(ctx, inst); relErr != nil {
				err = errors.Join(err, relErr)
			}
		}
		return nil, false, "", storage.DomainError(err, "auction")
	}
	return auction, inst != nil, outcome, nil
}

// reopenAuction undoes a close whose ledger record was never written.
func (e *Engine) reopenAuction(auctionID string, reserved bool, now time.Time) ledger.RollbackFunc {
	return func(ctx context.Context) error {
		unlock := e.locks.Lock(auctionID)
		defer unlock()

		auction, err := e.Store.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if reserved {
			inst, err := e.Store.GetInstrument(ctx, auction.InstrumentId)
			if err != nil {
				return err
			}
			if inst.Release(now) {
				if err := e.Store.UpdateInstrument(ctx, inst); err != nil {
					return err
				}
			}
		}
		auction.Status = models.AuctionOpen
		auction.WinnerId = ""
		auction.UpdatedAt = now
		return e.Store.UpdateAuction(ctx, auction)
	}
}

// CloseDueAuctions closes every open auction whose end time is at or before now and
// returns how many were closed. Failures do not stop the sweep; they are joined.
func (e *Engine) CloseDueAuctions(ctx context.Context, now time.Time) (int, error) {
	due, err := e.Store.ListDueAuctions(ctx, now)
	if err != nil {
		return 0, storage.DomainError(err, "auctions")
	}

	limit := e.CloseConcurrency
	if limit <= 0 {
		limit = DefaultCloseConcurrency
	}
	sem := semaphore.NewWeighted(limit)

	var (
		g      errgroup.Group
		closed atomic.Int64
		mu     sync.Mutex
		errs   []error
	)
	for _, a := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			_, err := e.CloseAuction(ctx, a.Id, now)
			switch {
			case err == nil:
				closed.Add(1)
			case errors.Is(err, apperrors.ErrAuctionStillOpen):
			default:
				e.Logger.ErrorContext(ctx, "failed to close auction",
					slog.String("auction_id", a.Id),
					slog.String("error", err.Error()))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(closed.Load()), errors.Join(errs...)
}
