package compensation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/chris/tax-credit-settlement/pkg/errors"
	"github.com/chris/tax-credit-settlement/pkg/events"
	"github.com/chris/tax-credit-settlement/pkg/ledger"
	"github.com/chris/tax-credit-settlement/pkg/lock"
	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/chris/tax-credit-settlement/pkg/storage"
	"github.com/google/uuid"
)

// Store is the persistence the engine needs.
type Store interface {
	storage.InstrumentStore
	storage.CompensationStore
}

// SettlementObserver is told about every completed settlement.
type SettlementObserver interface {
	OnSettlement(ctx context.Context, userID string, role models.Role, outcome models.Outcome) (*models.ReputationProfile, error)
}

// Engine holds the dependencies for compensation requests.
type Engine struct {
	Store      Store
	Recorder   ledger.Recorder
	Publisher  events.Publisher
	Reputation SettlementObserver
	Rates      Rates
	Logger     *slog.Logger

	// locks guards credit pools, keyed by credit id.
	locks *lock.Keyed
}

// NewEngine creates a new Engine. A nil publisher drops events, a nil reputation
// observer skips scoring and a nil logger uses slog.Default().
func NewEngine(store Store, recorder ledger.Recorder, publisher events.Publisher, reputation SettlementObserver, rates Rates, logger *slog.Logger) *Engine {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:      store,
		Recorder:   recorder,
		Publisher:  publisher,
		Reputation: reputation,
		Rates:      rates,
		Logger:     logger,
		locks:      lock.NewKeyed(),
	}
}

func validateDebt(debt models.FiscalDebt, candidates []string) error {
	switch {
	case debt.Id == "":
		return apperrors.New(apperrors.CodeInvalidInput, "debt id is required")
	case debt.DebtorId == "":
		return apperrors.New(apperrors.CodeInvalidInput, "debtor id is required")
	case debt.Category == "":
		return apperrors.New(apperrors.CodeInvalidInput, "debt category is required")
	case debt.Principal <= 0:
		return apperrors.New(apperrors.CodeInvalidAmount, "principal must be positive")
	case len(candidates) == 0:
		return apperrors.New(apperrors.CodeInvalidInput, "at least one candidate credit is required")
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GetCompensation returns a compensation request by id.
func (e *Engine) GetCompensation(ctx context.Context, id string) (*models.CompensationRequest, error) {
	req, err := e.Store.GetCompensation(ctx, id)
	if err != nil {
		return nil, storage.DomainError(err, "compensation")
	}
	return req, nil
}

// RequestCompensation offsets debt against the candidate credits. The request is
// returned in its final state: Completed, or Rejected together with the error that
// rejected it.
func (e *Engine) RequestCompensation(ctx context.Context, debt models.FiscalDebt, candidateCreditIDs []string, now time.Time) (*models.CompensationRequest, error) {
	if !e.Rates.Valid() {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "compensation rates cannot be negative")
	}
	candidates := dedupe(candidateCreditIDs)
	if err := validateDebt(debt, candidates); err != nil {
		return nil, err
	}

	// 1. Open the request.
	req := &models.CompensationRequest{
		Id:                 uuid.NewString(),
		DebtId:             debt.Id,
		DebtorId:           debt.DebtorId,
		Category:           debt.Category,
		Principal:          debt.Principal,
		CandidateCreditIds: candidates,
		Allocations:        []models.Allocation{},
		Status:             models.CompensationPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.Store.CreateCompensation(ctx, req); err != nil {
		return nil, storage.DomainError(err, "compensation")
	}

	// 2. Allocate under the pool lock.
	prior, err := e.allocate(ctx, req, debt, now)
	if err != nil {
		return req, err
	}

	// 3. Record it, restoring the pool if the ledger gives up.
	rec := ledger.NewRecord(ledger.RecordCompensationCompleted, req.Id, "compensation:"+req.Id, now, map[string]string{
		"debt_id":        req.DebtId,
		"debtor_id":      req.DebtorId,
		"category":       req.Category,
		"outstanding":    ledger.Amount(req.OutstandingDebt),
		"matched":        ledger.Amount(req.MatchedAmount),
		"economia":       ledger.Amount(req.Economia),
		"saldo":          ledger.Amount(req.SaldoRemanescente),
		"saldo_side":     string(req.SaldoSide),
		"classification": string(req.Classification),
	})
	receipt, err := ledger.Commit(ctx, e.Logger, e.Recorder, rec, e.restorePool(req, prior, now))
	if err != nil {
		if stored, getErr := e.Store.GetCompensation(context.WithoutCancel(ctx), req.Id); getErr == nil {
			req = stored
		}
		return req, err
	}

	// 4. Complete.
	req.LedgerRecordId = receipt.Id
	if err := e.transition(ctx, req, models.CompensationCompleted, now); err != nil {
		return req, err
	}

	e.publish(ctx, req, now)
	if e.Reputation != nil {
		if _, err := e.Reputation.OnSettlement(ctx, req.DebtorId, models.RoleBuyer, models.OutcomeSuccess); err != nil {
			e.Logger.ErrorContext(ctx, "failed to update reputation",
				slog.String("user_id", req.DebtorId),
				slog.String("error", err.Error()))
		}
	}
	return req, nil
}

// transition moves req to next and persists it.
func (e *Engine) transition(ctx context.Context, req *models.CompensationRequest, next models.CompensationStatus, now time.Time) error {
	if !req.Status.CanTransitionTo(next) {
		return apperrors.Newf(apperrors.CodeConflict, "compensation %s cannot move from %s to %s", req.Id, req.Status, next)
	}
	req.Status = next
	req.UpdatedAt = now
	if err := e.Store.UpdateCompensation(ctx, req); err != nil {
		return storage.DomainError(err, "compensation")
	}
	return nil
}

// reject marks req Rejected and returns cause.
func (e *Engine) reject(ctx context.Context, req *models.CompensationRequest, cause error, now time.Time) error {
	req.RejectionReason = cause.Error()
	if err := e.transition(ctx, req, models.CompensationRejected, now); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// allocate validates the pool, computes the match and consumes the balances. It
// returns the credits as they were before consumption.
func (e *Engine) allocate(ctx context.Context, req *models.CompensationRequest, debt models.FiscalDebt, now time.Time) (map[string]models.CreditInstrument, error) {
	unlock := e.locks.LockAll(req.CandidateCreditIds)
	defer unlock()

	// 1. Every candidate must be an eligible credit of the debtor.
	credits := make([]models.CreditInstrument, 0, len(req.CandidateCreditIds))
	for _, id := range req.CandidateCreditIds {
		inst, err := e.Store.GetInstrument(ctx, id)
		if err != nil {
			return nil, e.reject(ctx, req, storage.DomainError(err, "credit "+id), now)
		}
		if err := eligible(inst, debt); err != nil {
			return nil, e.reject(ctx, req, err, now)
		}
		credits = append(credits, *inst)
	}

	// 2. Match.
	result := Match(debt, credits, e.Rates)
	result.Apply(req)
	if result.Classification == models.ClassificationImpossivel {
		return nil, e.reject(ctx, req, apperrors.New(apperrors.CodeInsufficientBalance, "no credit balance available for the debt"), now)
	}
	if err := e.transition(ctx, req, models.CompensationProcessing, now); err != nil {
		return nil, err
	}

	// 3. Consume the allocated balances in one write.
	byID := make(map[string]models.CreditInstrument, len(credits))
	for _, c := range credits {
		byID[c.Id] = c
	}
	prior := make(map[string]models.CreditInstrument, len(result.Allocations))
	updated := make([]*models.CreditInstrument, 0, len(result.Allocations))
	for _, a := range result.Allocations {
		c := byID[a.CreditId]
		prior[c.Id] = c
		next := c.Clone()
		next.RemainingBalance -= a.Amount
		if next.RemainingBalance == 0 {
			next.Status = models.InstrumentCompensated
		}
		next.UpdatedAt = now
		updated = append(updated, next)
	}
	if err := e.Store.UpdateInstruments(ctx, updated...); err != nil {
		return nil, e.reject(ctx, req, storage.DomainError(err, "credit pool"), now)
	}
	return prior, nil
}

func eligible(inst *models.CreditInstrument, debt models.FiscalDebt) error {
	meta := map[string]string{"credit_id": inst.Id}
	switch {
	case inst.OwnerId != debt.DebtorId:
		return apperrors.WithMetadata(apperrors.CodeInvalidInput, "credit is not owned by the debtor", meta)
	case inst.Category != debt.Category:
		return apperrors.WithMetadata(apperrors.CodeInvalidInput, "credit category does not match the debt", meta)
	}
	switch inst.Status {
	case models.InstrumentAvailable, models.InstrumentTokenized:
		return nil
	case models.InstrumentDraft, models.InstrumentReserved, models.InstrumentCompensated,
		models.InstrumentExpired, models.InstrumentCancelled:
		return apperrors.WithMetadata(apperrors.CodeNotNegotiable, "credit is "+string(inst.Status), meta)
	}
	return apperrors.WithMetadata(apperrors.CodeNotNegotiable, "credit has unknown status", meta)
}

// restoreAttempts bounds how often restorePool re-reads the pool after losing a
// race with another engine's write.
const restoreAttempts = 3

// restorePool gives the consumed balances back and rejects the request. Another
// engine may have moved a credit since the allocation; only a Compensated status
// set by the allocation itself is reverted.
func (e *Engine) restorePool(req *models.CompensationRequest, prior map[string]models.CreditInstrument, now time.Time) ledger.RollbackFunc {
	return func(ctx context.Context) error {
		unlock := e.locks.LockAll(req.CandidateCreditIds)
		defer unlock()

		var err error
		for attempt := 0; attempt < restoreAttempts; attempt++ {
			if err = e.giveBack(ctx, req.AllocationMap(), prior, now); !errors.Is(err, storage.ErrVersionConflict) {
				break
			}
		}
		if err != nil {
			return err
		}

		stored, err := e.Store.GetCompensation(ctx, req.Id)
		if err != nil {
			return err
		}
		stored.RejectionReason = "ledger write failed"
		return e.transition(ctx, stored, models.CompensationRejected, now)
	}
}

// giveBack adds the allocated amounts back to the current state of each credit.
func (e *Engine) giveBack(ctx context.Context, allocated map[string]int64, prior map[string]models.CreditInstrument, now time.Time) error {
	restored := make([]*models.CreditInstrument, 0, len(allocated))
	for id, amount := range allocated {
		inst, err := e.Store.GetInstrument(ctx, id)
		if err != nil {
			return err
		}
		inst.RemainingBalance += amount
		if inst.Status == models.InstrumentCompensated && prior[id].Status != models.InstrumentCompensated {
			inst.Status = prior[id].Status
		}
		inst.UpdatedAt = now
		restored = append(restored, inst)
	}
	return e.Store.UpdateInstruments(ctx, restored...)
}

func (e *Engine) publish(ctx context.Context, req *models.CompensationRequest, now time.Time) {
	err := e.Publisher.Publish(ctx, events.Event{
		Id:          uuid.NewString(),
		Type:        events.TypeCompensationCompleted,
		AggregateId: req.Id,
		OccurredAt:  now,
		Payload: map[string]string{
			"debtor_id":      req.DebtorId,
			"matched":        ledger.Amount(req.MatchedAmount),
			"classification": string(req.Classification),
		},
	})
	if err != nil {
		e.Logger.ErrorContext(ctx, "failed to publish event",
			slog.String("type", string(events.TypeCompensationCompleted)),
			slog.String("aggregate_id", req.Id),
			slog.String("error", err.Error()))
	}
}
