// Package compensation offsets fiscal debts against pools of fiscal credits.
package compensation

import (
	"sort"

	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

// Rates are the surcharges applied to a debt's principal.
type Rates struct {
	Multa decimal.Decimal
	Juros decimal.Decimal
}

// DefaultRates returns a 5% multa and 3% juros.
func DefaultRates() Rates {
	return Rates{
		Multa: decimal.RequireFromString("0.05"),
		Juros: decimal.RequireFromString("0.03"),
	}
}

// Valid reports whether both rates are non-negative.
func (r Rates) Valid() bool {
	return !r.Multa.IsNegative() && !r.Juros.IsNegative()
}

// surcharge returns principal * rate rounded half-up to the unit.
func surcharge(principal int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(principal).Mul(rate).Round(0).IntPart()
}

// Result is the outcome of matching one debt against a credit pool.
type Result struct {
	Multa             int64
	Juros             int64
	OutstandingDebt   int64
	MatchedAmount     int64
	Economia          int64
	SaldoRemanescente int64
	SaldoSide         models.SaldoSide
	Classification    models.Classification
	Allocations       []models.Allocation
}

// Match allocates credits to the debt greedily, largest remaining balance first with
// ties broken by id, until the outstanding debt is covered or the pool runs out.
// Eligibility of the credits is the caller's concern. The input slice is not modified.
func Match(debt models.FiscalDebt, credits []models.CreditInstrument, rates Rates) Result {
	res := Result{
		Multa: surcharge(debt.Principal, rates.Multa),
		Juros: surcharge(debt.Principal, rates.Juros),
	}
	res.OutstandingDebt = debt.Principal + res.Multa + res.Juros

	pool := make([]models.CreditInstrument, 0, len(credits))
	var available int64
	for _, c := range credits {
		if c.RemainingBalance > 0 {
			pool = append(pool, c)
			available += c.RemainingBalance
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].RemainingBalance == pool[j].RemainingBalance {
			return pool[i].Id < pool[j].Id
		}
		return pool[i].RemainingBalance > pool[j].RemainingBalance
	})

	need := res.OutstandingDebt
	for _, c := range pool {
		if need == 0 {
			break
		}
		take := min(c.RemainingBalance, need)
		res.Allocations = append(res.Allocations, models.Allocation{CreditId: c.Id, Amount: take})
		res.MatchedAmount += take
		need -= take
	}

	res.Economia = res.MatchedAmount - (res.Multa + res.Juros)

	switch {
	case res.MatchedAmount < res.OutstandingDebt:
		res.SaldoSide = models.SaldoDebito
		res.SaldoRemanescente = res.OutstandingDebt - res.MatchedAmount
	case available > res.MatchedAmount:
		res.SaldoSide = models.SaldoCredito
		res.SaldoRemanescente = available - res.MatchedAmount
	default:
		res.SaldoSide = models.SaldoNone
	}

	switch {
	case res.MatchedAmount == 0:
		res.Classification = models.ClassificationImpossivel
	case res.MatchedAmount == res.OutstandingDebt:
		res.Classification = models.ClassificationTotal
	default:
		res.Classification = models.ClassificationParcial
	}
	return res
}

// Apply copies the result onto req.
func (r Result) Apply(req *models.CompensationRequest) {
	req.Multa = r.Multa
	req.Juros = r.Juros
	req.OutstandingDebt = r.OutstandingDebt
	req.MatchedAmount = r.MatchedAmount
	req.Economia = r.Economia
	req.SaldoRemanescente = r.SaldoRemanescente
	req.SaldoSide = r.SaldoSide
	req.Classification = r.Classification
	req.Allocations = append([]models.Allocation(nil), r.Allocations...)
}
