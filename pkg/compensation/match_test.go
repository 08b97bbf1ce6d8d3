package compensation

import (
	"math/rand"
	"testing"

	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func credit(id string, balance int64) models.CreditInstrument {
	return models.CreditInstrument{Id: id, Category: "ICMS", RemainingBalance: balance, Status: models.InstrumentAvailable}
}

var debt = models.FiscalDebt{Id: "d-1", DebtorId: "acme", Category: "ICMS", Principal: 100000}

func TestMatch(t *testing.T) {
	t.Run("Total with credit saldo", func(t *testing.T) {
		res := Match(debt, []models.CreditInstrument{credit("c-1", 70000), credit("c-2", 40000)}, DefaultRates())

		assert.Equal(t, int64(5000), res.Multa)
		assert.Equal(t, int64(3000), res.Juros)
		assert.Equal(t, int64(108000), res.OutstandingDebt)
		assert.Equal(t, int64(108000), res.MatchedAmount)
		assert.Equal(t, int64(100000), res.Economia)
		assert.Equal(t, models.ClassificationTotal, res.Classification)
		assert.Equal(t, models.SaldoCredito, res.SaldoSide)
		assert.Equal(t, int64(2000), res.SaldoRemanescente)
		assert.Equal(t, []models.Allocation{
			{CreditId: "c-1", Amount: 70000},
			{CreditId: "c-2", Amount: 38000},
		}, res.Allocations)
	})

	t.Run("Parcial with debt saldo", func(t *testing.T) {
		res := Match(debt, []models.CreditInstrument{credit("c-1", 50000)}, DefaultRates())

		assert.Equal(t, int64(50000), res.MatchedAmount)
		assert.Equal(t, models.ClassificationParcial, res.Classification)
		assert.Equal(t, models.SaldoDebito, res.SaldoSide)
		assert.Equal(t, int64(58000), res.SaldoRemanescente)
		assert.Equal(t, int64(42000), res.Economia)
	})

	t.Run("Exact cover leaves no saldo", func(t *testing.T) {
		res := Match(debt, []models.CreditInstrument{credit("c-1", 108000)}, DefaultRates())

		assert.Equal(t, models.ClassificationTotal, res.Classification)
		assert.Equal(t, models.SaldoNone, res.SaldoSide)
		assert.Zero(t, res.SaldoRemanescente)
	})

	t.Run("Impossivel", func(t *testing.T) {
		res := Match(debt, []models.CreditInstrument{credit("c-1", 0)}, DefaultRates())

		assert.Equal(t, models.ClassificationImpossivel, res.Classification)
		assert.Zero(t, res.MatchedAmount)
		assert.Empty(t, res.Allocations)
		assert.Equal(t, int64(108000), res.SaldoRemanescente)
	})

	t.Run("Largest first, ties by id", func(t *testing.T) {
		res := Match(debt, []models.CreditInstrument{
			credit("c-3", 30000), credit("c-2", 60000), credit("c-1", 60000),
		}, DefaultRates())

		assert.Equal(t, []models.Allocation{
			{CreditId: "c-1", Amount: 60000},
			{CreditId: "c-2", Amount: 48000},
		}, res.Allocations)
	})

	t.Run("Does not modify the input", func(t *testing.T) {
		credits := []models.CreditInstrument{credit("c-2", 10), credit("c-1", 20)}

		Match(debt, credits, DefaultRates())

		assert.Equal(t, "c-2", credits[0].Id)
	})

	t.Run("Rates round half up", func(t *testing.T) {
		rates := Rates{Multa: decimal.RequireFromString("0.05"), Juros: decimal.RequireFromString("0.03")}
		odd := models.FiscalDebt{Id: "d-2", DebtorId: "acme", Category: "ICMS", Principal: 1010}

		res := Match(odd, nil, rates)

		// 50.5 and 30.3
		assert.Equal(t, int64(51), res.Multa)
		assert.Equal(t, int64(30), res.Juros)
		assert.Equal(t, int64(1091), res.OutstandingDebt)
	})
}

func TestMatchInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		d := models.FiscalDebt{Id: "d", DebtorId: "acme", Category: "ICMS", Principal: rng.Int63n(200000) + 1}
		var credits []models.CreditInstrument
		var available int64
		for j := 0; j < rng.Intn(6); j++ {
			c := credit(string(rune('a'+j)), rng.Int63n(80000))
			credits = append(credits, c)
			available += c.RemainingBalance
		}

		res := Match(d, credits, DefaultRates())

		assert.LessOrEqual(t, res.MatchedAmount, min(res.OutstandingDebt, available))
		var sum int64
		balances := make(map[string]int64)
		for _, c := range credits {
			balances[c.Id] = c.RemainingBalance
		}
		for _, a := range res.Allocations {
			assert.LessOrEqual(t, a.Amount, balances[a.CreditId])
			assert.Positive(t, a.Amount)
			sum += a.Amount
		}
		assert.Equal(t, res.MatchedAmount, sum)
		assert.Equal(t, res.MatchedAmount-(res.Multa+res.Juros), res.Economia)
		if res.Classification == models.ClassificationTotal {
			assert.GreaterOrEqual(t, res.Economia, int64(0))
		}
	}
}
