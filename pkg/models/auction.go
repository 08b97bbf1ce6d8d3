package models

import "time"

// AuctionStatus defines the possible states of an auction.
type AuctionStatus string

const (
	AuctionOpen   AuctionStatus = "OPEN"
	AuctionClosed AuctionStatus = "CLOSED"
)

// Valid reports whether s is a known status.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionOpen, AuctionClosed:
		return true
	}
	return false
}

// Bid is a single offer placed in an auction. Bids are never mutated once appended.
type Bid struct {
	Id        string    `json:"id" dynamodbav:"id"`
	BidderId  string    `json:"bidder_id" dynamodbav:"bidder_id"`
	Amount    int64     `json:"amount" dynamodbav:"amount"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// Auction is a time-boxed competitive sale of a single tokenized instrument.
type Auction struct {
	Id           string        `json:"id" dynamodbav:"id"`
	InstrumentId string        `json:"instrument_id" dynamodbav:"instrument_id"`
	SellerId     string        `json:"seller_id" dynamodbav:"seller_id"`
	StartingBid  int64         `json:"starting_bid" dynamodbav:"starting_bid"`
	MinIncrement int64         `json:"min_increment" dynamodbav:"min_increment"`
	StartTime    time.Time     `json:"start_time" dynamodbav:"start_time"`
	EndTime      time.Time     `json:"end_time" dynamodbav:"end_time"`
	Bids         []Bid         `json:"bids" dynamodbav:"bids"`
	CurrentBid   int64         `json:"current_bid" dynamodbav:"current_bid"`
	WinnerId     string        `json:"winner_id,omitempty" dynamodbav:"winner_id,omitempty"`
	Status       AuctionStatus `json:"status" dynamodbav:"status"`
	Version      int64         `json:"version" dynamodbav:"version"`
	CreatedAt    time.Time     `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" dynamodbav:"updated_at"`
}

// NextMinimum is the smallest amount the next bid may carry.
func (a *Auction) NextMinimum() int64 {
	return a.CurrentBid + a.MinIncrement
}

// Ended reports whether the bidding window is over at now.
func (a *Auction) Ended(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// HighestBid returns the last accepted bid, if any.
func (a *Auction) HighestBid() (Bid, bool) {
	if len(a.Bids) == 0 {
		return Bid{}, false
	}
	return a.Bids[len(a.Bids)-1], true
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	cp := *a
	cp.Bids = append([]Bid(nil), a.Bids...)
	return &cp
}
