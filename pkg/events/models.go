// Package events carries domain events out of the settlement engines.
package events

import "time"

// Type defines the type of a domain event.
type Type string

const (
	TypeAuctionCreated        Type = "AuctionCreated"
	TypeBidPlaced             Type = "BidPlaced"
	TypeAuctionClosed         Type = "AuctionClosed"
	TypeOfferAccepted         Type = "OfferAccepted"
	TypeCompensationCompleted Type = "CompensationCompleted"
	TypeTransferConfirmed     Type = "TransferConfirmed"
	TypeReputationUpdated     Type = "ReputationUpdated"
)

// Event is a notification that an aggregate changed.
type Event struct {
	Id          string            `json:"id"`
	Type        Type              `json:"type"`
	AggregateId string            `json:"aggregate_id"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Payload     map[string]string `json:"payload,omitempty"`
}
