// Package auction runs time-boxed competitive sales of tokenized credit instruments.
package auction

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
	"github.com/chris/tax-credit-settlement/pkg/scheduler"
	"github.com/chris/tax-credit-settlement/pkg/storage"
	"github.com/google/uuid"
)

// DefaultCloseConcurrency bounds how many auctions CloseDueAuctions closes at once.
const DefaultCloseConcurrency = 8

// Store is the persistence the engine needs.
type Store interface {
	storage.InstrumentStore
	storage.AuctionStore
}

// Engine holds the dependencies for auction operations.
type Engine struct {
	Store            Store
	Recorder         ledger.Recorder
	Scheduler        scheduler.Scheduler
	Publisher        events.Publisher
	Logger           *slog.Logger
	CloseConcurrency int64

	locks *lock.Keyed
}

// NewEngine creates a new Engine. Nil scheduler, publisher and logger fall back to no-op defaults.
func NewEngine(store Store, recorder ledger.Recorder, sched scheduler.Scheduler, publisher events.Publisher, logger *slog.Logger) *Engine {
	if sched == nil {
		sched = scheduler.NoOpScheduler{}
	}
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:            store,
		Recorder:         recorder,
		Scheduler:        sched,
		Publisher:        publisher,
		Logger:           logger,
		CloseConcurrency: DefaultCloseConcurrency,
		locks:            lock.NewKeyed(),
	}
}

// CreateAuctionInput describes a new auction.
type CreateAuctionInput struct {
	InstrumentId string
	SellerId     string
	StartingBid  int64
	MinIncrement int64
	StartTime    time.Time
	EndTime      time.Time
}

func (in CreateAuctionInput) validate() error {
	switch {
	case in.InstrumentId == "":
		return apperrors.New(apperrors.CodeInvalidInput, "instrument id is required")
	case in.SellerId == "":
		return apperrors.New(apperrors.CodeInvalidInput, "seller id is required")
	case in.StartingBid < 0:
		return apperrors.New(apperrors.CodeInvalidAmount, "starting bid cannot be negative")
	case in.MinIncrement <= 0:
		return apperrors.New(apperrors.CodeInvalidAmount, "minimum increment must be positive")
	case in.StartTime.IsZero() || !in.EndTime.After(in.StartTime):
		return apperrors.New(apperrors.CodeInvalidInput, "end time must be after start time")
	}
	return nil
}

// CreateAuction opens an auction on a tokenized instrument owned by the seller.
func (e *Engine) CreateAuction(ctx context.Context, in CreateAuctionInput, now time.Time) (*models.Auction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	// 1. The instrument must be tokenized and belong to the seller.
	inst, err := e.Store.GetInstrument(ctx, in.InstrumentId)
	if err != nil {
		return nil, storage.DomainError(err, "instrument")
	}
	if inst.Status != models.InstrumentTokenized {
		return nil, apperrors.Newf(apperrors.CodeNotTokenized, "instrument %s is %s", inst.Id, inst.Status)
	}
	if inst.OwnerId != in.SellerId {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "instrument %s is not owned by %s", inst.Id, in.SellerId)
	}

	// 2. Store the auction.
	auction := &models.Auction{
		Id:           uuid.NewString(),
		InstrumentId: in.InstrumentId,
		SellerId:     in.SellerId,
		StartingBid:  in.StartingBid,
		MinIncrement: in.MinIncrement,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
		Bids:         []models.Bid{},
		CurrentBid:   in.StartingBid,
		Status:       models.AuctionOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Store.CreateAuction(ctx, auction); err != nil {
		return nil, storage.DomainError(err, "auction")
	}

	// 3. Record it; an unrecorded auction is closed straight away.
	rec := ledger.NewRecord(ledger.RecordAuctionCreated, auction.Id, "auction:"+auction.Id+":created", now, map[string]string{
		"instrument_id": auction.InstrumentId,
		"seller_id":     auction.SellerId,
		"starting_bid":  ledger.Amount(auction.StartingBid),
		"min_increment": ledger.Amount(auction.MinIncrement),
		"end_time":      auction.EndTime.UTC().Format(time.RFC3339),
	})
	if _, err := ledger.Commit(ctx, e.Logger, e.Recorder, rec, e.abandonAuction(auction.Id, now)); err != nil {
		return nil, err
	}

	// 4. Ask for the close. The sweep still closes the auction if this fails.
	if err := e.Scheduler.ScheduleAuctionClose(ctx, auction.Id, auction.EndTime); err != nil {
		e.Logger.WarnContext(ctx, "failed to schedule auction close",
			slog.String("auction_id", auction.Id),
			slog.String("error", err.Error()))
	}

	e.publish(ctx, events.TypeAuctionCreated, auction.Id, now, map[string]string{
		"instrument_id": auction.InstrumentId,
		"seller_id":     auction.SellerId,
	})
	return auction, nil
}

func (e *Engine) abandonAuction(auctionID string, now time.Time) ledger.RollbackFunc {
	return func(ctx context.Context) error {
		unlock := e.locks.Lock(auctionID)
		defer unlock()

		auction, err := e.Store.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		auction.Status = models.AuctionClosed
		auction.UpdatedAt = now
		return e.Store.UpdateAuction(ctx, auction)
	}
}

// GetAuction returns an auction by id.
func (e *Engine) GetAuction(ctx context.Context, auctionID string) (*models.Auction, error) {
	auction, err := e.Store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, storage.DomainError(err, "auction")
	}
	return auction, nil
}

// PlaceBid accepts a bid of at least currentBid + minIncrement and returns the next minimum.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64, now time.Time) (int64, error) {
	if bidderID == "" {
		return 0, apperrors.New(apperrors.CodeInvalidInput, "bidder id is required")
	}
	if amount <= 0 {
		return 0, apperrors.New(apperrors.CodeInvalidBid, "bid amount must be positive")
	}

	bid, auction, err := e.appendBid(ctx, auctionID, bidderID, amount, now)
	if err != nil {
		return 0, err
	}

	rec := ledger.NewRecord(ledger.RecordBidPlaced, auctionID, "bid:"+bid.Id, now, map[string]string{
		"bid_id":    bid.Id,
		"bidder_id": bid.BidderId,
		"amount":    ledger.Amount(bid.Amount),
	})
	if _, err := ledger.Commit(ctx, e.Logger, e.Recorder, rec, e.withdrawBid(auctionID, bid.Id, now)); err != nil {
		return 0, err
	}

	e.publish(ctx, events.TypeBidPlaced, auctionID, now, map[string]string{
		"bidder_id":    bid.BidderId,
		"amount":       ledger.Amount(bid.Amount),
		"next_minimum": ledger.Amount(auction.NextMinimum()),
	})
	return auction.NextMinimum(), nil
}

func (e *Engine) appendBid(ctx context.Context, auctionID, bidderID string, amount int64, now time.Time) (models.Bid, *models.Auction, error) {
	unlock := e.locks.Lock(auctionID)
	defer unlock()

	auction, err := e.Store.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Bid{}, nil, storage.DomainError(err, "auction")
	}

	// 1. Window checks.
	if auction.Status == models.AuctionClosed || auction.Ended(now) {
		return models.Bid{}, nil, apperrors.Newf(apperrors.CodeAuctionExpired, "auction %s ended at %s",
			auction.Id, auction.EndTime.UTC().Format(time.RFC3339))
	}
	if now.Before(auction.StartTime) {
		return models.Bid{}, nil, apperrors.Newf(apperrors.CodeInvalidInput, "auction %s has not started", auction.Id)
	}
	if bidderID == auction.SellerId {
		return models.Bid{}, nil, apperrors.New(apperrors.CodeInvalidInput, "seller cannot bid on their own auction")
	}

	// 2. The instrument must still be tokenized.
	inst, err := e.Store.GetInstrument(ctx, auction.InstrumentId)
	if err != nil {
		return models.Bid{}, nil, storage.DomainError(err, "instrument")
	}
	if inst.Status != models.InstrumentTokenized {
		return models.Bid{}, nil, apperrors.Newf(apperrors.CodeNotTokenized, "instrument %s is %s", inst.Id, inst.Status)
	}

	// 3. Increment rule.
	if next := auction.NextMinimum(); amount < next {
		return models.Bid{}, nil, apperrors.WithMetadata(apperrors.CodeInvalidBid,
			"bid is below the next minimum",
			map[string]string{"next_minimum": strconv.FormatInt(next, 10)})
	}

	// 4. Append and persist, provided the instrument has not moved since step 2.
	bid := models.Bid{Id: uuid.NewString(), BidderId: bidderID, Amount: amount, Timestamp: now}
	auction.Bids = append(auction.Bids, bid)
	auction.CurrentBid = amount
	auction.UpdatedAt = now
	if err := e.Store.UpdateAuctionIfInstrument(ctx, auction, inst.Id, inst.Version); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return models.Bid{}, nil, apperrors.Newf(apperrors.CodeConflict,
				"auction %s or instrument %s changed while bidding", auction.Id, inst.Id)
		}
		return models.Bid{}, nil, storage.DomainError(err, "auction")
	}
	return bid, auction, nil
}

// withdrawBid removes a bid whose ledger record was never written.
func (e *Engine) withdrawBid(auctionID, bidID string, now time.Time) ledger.RollbackFunc {
	return func(ctx context.Context) error {
		unlock := e.locks.Lock(auctionID)
		defer unlock()

		auction, err := e.Store.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		kept := auction.Bids[:0]
		for _, b := range auction.Bids {
			if b.Id != bidID {
				kept = append(kept, b)
			}
		}
		auction.Bids = kept
		auction.CurrentBid = auction.StartingBid
		if highest, ok := auction.HighestBid(); ok {
			auction.CurrentBid = highest.Amount
		}
		auction.UpdatedAt = now
		return e.Store.UpdateAuction(ctx, auction)
	}
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
