package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/chris/tax-credit-settlement/pkg/errors"
)

// RollbackFunc undoes a local transition whose ledger record could not be written.
type RollbackFunc func(ctx context.Context) error

// Commit appends rec. When the recorder gives up, rollback runs on a context that
// survives cancellation of ctx and the caller gets a DEGRADED error wrapping the
// ledger failure. Failures are logged to logger, or slog.Default() when nil.
func Commit(ctx context.Context, logger *slog.Logger, r Recorder, rec Record, rollback RollbackFunc) (Receipt, error) {
	receipt, err := r.Append(ctx, rec)
	if err == nil {
		return receipt, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.ErrorContext(ctx, "ledger write failed, rolling back",
		slog.String("type", string(rec.Type)),
		slog.String("aggregate_id", rec.AggregateId),
		slog.String("idempotency_key", rec.IdempotencyKey),
		slog.String("error", err.Error()))

	if rollback != nil {
		if rbErr := rollback(context.WithoutCancel(ctx)); rbErr != nil {
			logger.ErrorContext(ctx, "rollback after ledger failure failed",
				slog.String("aggregate_id", rec.AggregateId),
				slog.String("error", rbErr.Error()))
			err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
	}

	degraded := apperrors.Wrap(apperrors.CodeDegraded,
		fmt.Sprintf("ledger write for %s %s failed", rec.Type, rec.AggregateId), err)
	degraded.Metadata = map[string]string{"aggregate_id": rec.AggregateId}
	return Receipt{}, degraded
}
