// Package errors provides the typed error taxonomy shared by the settlement engines.
package errors

// Kind groups codes by how a caller is expected to react.
type Kind string

const (
	// KindValidation is bad input shape or range. Reject, never retry.
	KindValidation Kind = "VALIDATION"
	// KindStateConflict is a stale or concurrent version. Re-fetch and retry.
	KindStateConflict Kind = "STATE_CONFLICT"
	// KindExpired is a time window that has passed. Terminal.
	KindExpired Kind = "EXPIRED"
	// KindInsufficientBalance means the requested amount exceeds availability. Terminal for the request.
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	// KindLedgerWrite is a ledger failure that survived the retry budget.
	KindLedgerWrite Kind = "LEDGER_WRITE"
	// KindNotFound means the referenced aggregate does not exist.
	KindNotFound Kind = "NOT_FOUND"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeInvalidAmount Code = "INVALID_AMOUNT"
	CodeInvalidBid    Code = "INVALID_BID"

	// Instrument state errors
	CodeNotTokenized  Code = "NOT_TOKENIZED"
	CodeNotNegotiable Code = "NOT_NEGOTIABLE"
	CodeConflict      Code = "CONFLICT"

	// Time window errors
	CodeAuctionExpired   Code = "AUCTION_EXPIRED"
	CodeAuctionStillOpen Code = "AUCTION_STILL_OPEN"
	CodeExpired          Code = "EXPIRED"

	// Compensation errors
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// Ledger errors
	CodeDegraded Code = "DEGRADED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// Kind maps a code to its kind.
func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidInput,
		CodeInvalidAmount,
		CodeInvalidBid,
		CodeNotTokenized,
		CodeNotNegotiable:
		return KindValidation
	case CodeConflict,
		CodeAuctionStillOpen:
		return KindStateConflict
	case CodeAuctionExpired,
		CodeExpired:
		return KindExpired
	case CodeInsufficientBalance:
		return KindInsufficientBalance
	case CodeDegraded:
		return KindLedgerWrite
	case CodeNotFound:
		return KindNotFound
	default:
		return KindValidation
	}
}
