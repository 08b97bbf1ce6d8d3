package models

import (
	"time"
)

// InstrumentStatus defines the possible states of a credit instrument.
type InstrumentStatus string

const (
	InstrumentDraft       InstrumentStatus = "DRAFT"
	InstrumentAvailable   InstrumentStatus = "AVAILABLE"
	InstrumentReserved    InstrumentStatus = "RESERVED"
	InstrumentTokenized   InstrumentStatus = "TOKENIZED"
	InstrumentCompensated InstrumentStatus = "COMPENSATED"
	InstrumentExpired     InstrumentStatus = "EXPIRED"
	InstrumentCancelled   InstrumentStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s InstrumentStatus) Valid() bool {
	switch s {
	case InstrumentDraft, InstrumentAvailable, InstrumentReserved, InstrumentTokenized,
		InstrumentCompensated, InstrumentExpired, InstrumentCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s InstrumentStatus) Terminal() bool {
	switch s {
	case InstrumentCompensated, InstrumentExpired, InstrumentCancelled:
		return true
	case InstrumentDraft, InstrumentAvailable, InstrumentReserved, InstrumentTokenized:
		return false
	}
	return true
}

// Negotiable reports whether offers and auctions may target an instrument in status s.
func (s InstrumentStatus) Negotiable() bool {
	switch s {
	case InstrumentAvailable, InstrumentTokenized:
		return true
	case InstrumentDraft, InstrumentReserved, InstrumentCompensated, InstrumentExpired, InstrumentCancelled:
		return false
	}
	return false
}

// CanTransitionTo reports whether the edge s -> next is part of the instrument lifecycle.
func (s InstrumentStatus) CanTransitionTo(next InstrumentStatus) bool {
	switch s {
	case InstrumentDraft:
		return next == InstrumentAvailable || next == InstrumentCancelled
	case InstrumentAvailable:
		switch next {
		case InstrumentTokenized, InstrumentReserved, InstrumentCompensated, InstrumentExpired, InstrumentCancelled:
			return true
		}
	case InstrumentTokenized:
		switch next {
		case InstrumentReserved, InstrumentAvailable, InstrumentCompensated, InstrumentExpired, InstrumentCancelled:
			return true
		}
	case InstrumentReserved:
		switch next {
		case InstrumentAvailable, InstrumentTokenized, InstrumentCompensated:
			return true
		}
	case InstrumentCompensated, InstrumentExpired, InstrumentCancelled:
		return false
	}
	return false
}

// CreditInstrument represents a tradable credit title (Título de Crédito).
// Version is the optimistic concurrency token; every successful write increments it.
type CreditInstrument struct {
	Id               string           `json:"id" dynamodbav:"id"`
	OwnerId          string           `json:"owner_id" dynamodbav:"owner_id"`
	Category         string           `json:"category" dynamodbav:"category"`
	NominalValue     int64            `json:"nominal_value" dynamodbav:"nominal_value"`
	RemainingBalance int64            `json:"remaining_balance" dynamodbav:"remaining_balance"`
	Status           InstrumentStatus `json:"status" dynamodbav:"status"`
	ReservedFrom     InstrumentStatus `json:"reserved_from,omitempty" dynamodbav:"reserved_from,omitempty"`
	ReservedFor      string           `json:"reserved_for,omitempty" dynamodbav:"reserved_for,omitempty"`
	Version          int64            `json:"version" dynamodbav:"version"`
	CreatedAt        time.Time        `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" dynamodbav:"updated_at"`
}

// Reserve moves the instrument into Reserved for buyerID, remembering where it came from.
func (c *CreditInstrument) Reserve(buyerID string, now time.Time) bool {
	if !c.Status.CanTransitionTo(InstrumentReserved) {
		return false
	}
	c.ReservedFrom = c.Status
	c.ReservedFor = buyerID
	c.Status = InstrumentReserved
	c.UpdatedAt = now
	return true
}

// Release undoes a reservation, returning to the status held before it.
func (c *CreditInstrument) Release(now time.Time) bool {
	if c.Status != InstrumentReserved {
		return false
	}
	prev := c.ReservedFrom
	if prev == "" {
		prev = InstrumentAvailable
	}
	if !c.Status.CanTransitionTo(prev) {
		return false
	}
	c.Status = prev
	c.ReservedFrom = ""
	c.ReservedFor = ""
	c.UpdatedAt = now
	return true
}

// Clone returns a deep copy of the instrument.
func (c *CreditInstrument) Clone() *CreditInstrument {
	cp := *c
	return &cp
}
