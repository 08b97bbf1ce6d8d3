package models

import "time"

// OfferStatus defines the possible states of a bilateral offer.
type OfferStatus string

const (
	OfferPending  OfferStatus = "PENDING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferRejected OfferStatus = "REJECTED"
	OfferExpired  OfferStatus = "EXPIRED"
)

// Valid reports whether s is a known status.
func (s OfferStatus) Valid() bool {
	switch s {
	case OfferPending, OfferAccepted, OfferRejected, OfferExpired:
		return true
	}
	return false
}

// Offer is a buyer's proposal to acquire an instrument below its nominal value.
// InstrumentStatus is the instrument status observed when the offer was made.
type Offer struct {
	Id               string           `json:"id" dynamodbav:"id"`
	InstrumentId     string           `json:"instrument_id" dynamodbav:"instrument_id"`
	BuyerId          string           `json:"buyer_id" dynamodbav:"buyer_id"`
	Amount           int64            `json:"amount" dynamodbav:"amount"`
	Message          string           `json:"message,omitempty" dynamodbav:"message,omitempty"`
	Expiry           time.Time        `json:"expiry" dynamodbav:"expiry"`
	Status           OfferStatus      `json:"status" dynamodbav:"status"`
	InstrumentStatus InstrumentStatus `json:"instrument_status" dynamodbav:"instrument_status"`
	Version          int64            `json:"version" dynamodbav:"version"`
	CreatedAt        time.Time        `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" dynamodbav:"updated_at"`
}

// Expired reports whether the offer's validity window is over at now.
func (o *Offer) Expired(now time.Time) bool {
	return !now.Before(o.Expiry)
}

// Clone returns a copy of the offer.
func (o *Offer) Clone() *Offer {
	cp := *o
	return &cp
}
