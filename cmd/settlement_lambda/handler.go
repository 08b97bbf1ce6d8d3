package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/chris/tax-credit-settlement/pkg/clock"
	apperrors "github.com/chris/tax-credit-settlement/pkg/errors"
	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/chris/tax-credit-settlement/pkg/scheduler"
)

type auctionCloser interface {
	GetAuction(ctx context.Context, auctionID string) (*models.Auction, error)
	CloseAuction(ctx context.Context, auctionID string, now time.Time) (*models.Auction, error)
}

type handler struct {
	auctions  auctionCloser
	scheduler scheduler.Scheduler
	clock     clock.Clock
}

// HandleRequest closes the auctions named by delayed SQS messages. A message that
// arrives early, because SQS caps delays, is scheduled again.
func (h *handler) HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) error {
	for _, message := range sqsEvent.Records {
		log.Printf("Processing message %s", message.MessageId)

		var msg scheduler.CloseMessage
		if err := json.Unmarshal([]byte(message.Body), &msg); err != nil {
			// A malformed body will never parse; retrying it only delays the batch.
			log.Printf("ERROR: failed to unmarshal close message %s: %v", message.MessageId, err)
			continue
		}

		if err := h.close(ctx, msg); err != nil {
			log.Printf("ERROR: failed to close auction %s: %v", msg.AuctionId, err)
			// Returning an error will cause SQS to retry the message.
			return err
		}
	}

	return nil
}

func (h *handler) close(ctx context.Context, msg scheduler.CloseMessage) error {
	auction, err := h.auctions.CloseAuction(ctx, msg.AuctionId, h.clock.Now())
	switch {
	case err == nil:
		log.Printf("Closed auction %s, winner %q", auction.Id, auction.WinnerId)
		return nil
	case errors.Is(err, apperrors.ErrAuctionStillOpen):
		log.Printf("Auction %s is still open, scheduling again for %s", msg.AuctionId, msg.CloseAt.Format(time.RFC3339))
		return h.scheduler.ScheduleAuctionClose(ctx, msg.AuctionId, msg.CloseAt)
	case errors.Is(err, apperrors.ErrConflict):
		// Either a duplicate delivery or a lost race on the instrument; only the latter is retried.
		current, getErr := h.auctions.GetAuction(ctx, msg.AuctionId)
		if getErr == nil && current.Status == models.AuctionClosed {
			log.Printf("Auction %s was already closed", msg.AuctionId)
			return nil
		}
	case errors.Is(err, apperrors.ErrNotFound):
		log.Printf("Auction %s no longer exists", msg.AuctionId)
		return nil
	}
	return err
}
