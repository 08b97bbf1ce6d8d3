package models

import "time"

// CompensationStatus defines the possible states of a compensation request.
type CompensationStatus string

const (
	CompensationPending    CompensationStatus = "PENDING"
	CompensationProcessing CompensationStatus = "PROCESSING"
	CompensationCompleted  CompensationStatus = "COMPLETED"
	CompensationRejected   CompensationStatus = "REJECTED"
)

// Valid reports whether s is a known status.
func (s CompensationStatus) Valid() bool {
	switch s {
	case CompensationPending, CompensationProcessing, CompensationCompleted, CompensationRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is allowed. Completed and Rejected are terminal.
func (s CompensationStatus) CanTransitionTo(next CompensationStatus) bool {
	switch s {
	case CompensationPending:
		return next == CompensationProcessing || next == CompensationRejected
	case CompensationProcessing:
		return next == CompensationCompleted || next == CompensationRejected
	case CompensationCompleted, CompensationRejected:
		return false
	}
	return false
}

// Classification describes how much of a debt a match covers.
type Classification string

const (
	ClassificationTotal      Classification = "TOTAL"
	ClassificationParcial    Classification = "PARCIAL"
	ClassificationImpossivel Classification = "IMPOSSIVEL"
)

// SaldoSide tags which side a remaining balance belongs to.
type SaldoSide string

const (
	SaldoNone    SaldoSide = "NONE"
	SaldoDebito  SaldoSide = "DEBITO"
	SaldoCredito SaldoSide = "CREDITO"
)

// FiscalDebt is an overdue tax debt to be offset. It is owned by the host application.
type FiscalDebt struct {
	Id        string `json:"id" dynamodbav:"id"`
	DebtorId  string `json:"debtor_id" dynamodbav:"debtor_id"`
	Category  string `json:"category" dynamodbav:"category"`
	Principal int64  `json:"principal" dynamodbav:"principal"`
}

// Allocation is the amount taken from one credit.
type Allocation struct {
	CreditId string `json:"credit_id" dynamodbav:"credit_id"`
	Amount   int64  `json:"amount" dynamodbav:"amount"`
}

// CompensationRequest offsets one fiscal debt against a pool of fiscal credits.
type CompensationRequest struct {
	Id                 string             `json:"id" dynamodbav:"id"`
	DebtId             string             `json:"debt_id" dynamodbav:"debt_id"`
	DebtorId           string             `json:"debtor_id" dynamodbav:"debtor_id"`
	Category           string             `json:"category" dynamodbav:"category"`
	Principal          int64              `json:"principal" dynamodbav:"principal"`
	CandidateCreditIds []string           `json:"candidate_credit_ids" dynamodbav:"candidate_credit_ids"`
	Allocations        []Allocation       `json:"allocations" dynamodbav:"allocations"`
	Multa              int64              `json:"multa" dynamodbav:"multa"`
	Juros              int64              `json:"juros" dynamodbav:"juros"`
	OutstandingDebt    int64              `json:"outstanding_debt" dynamodbav:"outstanding_debt"`
	MatchedAmount      int64              `json:"matched_amount" dynamodbav:"matched_amount"`
	Economia           int64              `json:"economia" dynamodbav:"economia"`
	SaldoRemanescente  int64              `json:"saldo_remanescente" dynamodbav:"saldo_remanescente"`
	SaldoSide          SaldoSide          `json:"saldo_side" dynamodbav:"saldo_side"`
	Classification     Classification     `json:"classification,omitempty" dynamodbav:"classification,omitempty"`
	Status             CompensationStatus `json:"status" dynamodbav:"status"`
	RejectionReason    string             `json:"rejection_reason,omitempty" dynamodbav:"rejection_reason,omitempty"`
	LedgerRecordId     string             `json:"ledger_record_id,omitempty" dynamodbav:"ledger_record_id,omitempty"`
	Version            int64              `json:"version" dynamodbav:"version"`
	CreatedAt          time.Time          `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" dynamodbav:"updated_at"`
}

// AllocationMap returns the matched allocations keyed by credit id.
func (r *CompensationRequest) AllocationMap() map[string]int64 {
	m := make(map[string]int64, len(r.Allocations))
	for _, a := range r.Allocations {
		m[a.CreditId] += a.Amount
	}
	return m
}

// Clone returns a deep copy of the request.
func (r *CompensationRequest) Clone() *CompensationRequest {
	cp := *r
	cp.CandidateCreditIds = append([]string(nil), r.CandidateCreditIds...)
	cp.Allocations = append([]Allocation(nil), r.Allocations...)
	return &cp
}
