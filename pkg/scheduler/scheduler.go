// Package scheduler delays auction closes and runs the periodic sweeps.
package scheduler

import (
	"context"
	"time"
)

// Scheduler defines the interface for a component that schedules an auction close for later processing.
type Scheduler interface {
	// ScheduleAuctionClose asks for auctionID to be closed at or after at.
	ScheduleAuctionClose(ctx context.Context, auctionID string, at time.Time) error
}

// CloseMessage is the body of a scheduled close.
type CloseMessage struct {
	AuctionId string    `json:"auction_id"`
	CloseAt   time.Time `json:"close_at"`
}

// NoOpScheduler drops every request; due auctions are still closed by the sweep.
type NoOpScheduler struct{}

// ScheduleAuctionClose does nothing.
func (NoOpScheduler) ScheduleAuctionClose(ctx context.Context, auctionID string, at time.Time) error {
	return nil
}
