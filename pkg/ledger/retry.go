package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/chris/tax-credit-settlement/pkg/ledger"

// RetryConfig bounds how long a ledger call may take.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      uint
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig retries three times with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		AttemptTimeout:  5 * time.Second,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// RetryingRecorder applies a per-attempt timeout and bounded exponential backoff
// to every call on the wrapped recorder.
type RetryingRecorder struct {
	next   Recorder
	cfg    RetryConfig
	tracer trace.Tracer
	logger *slog.Logger
}

// NewRetryingRecorder wraps next. A nil logger uses slog.Default().
func NewRetryingRecorder(next Recorder, cfg RetryConfig, logger *slog.Logger) *RetryingRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingRecorder{
		next:   next,
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
		logger: logger,
	}
}

var _ Recorder = (*RetryingRecorder)(nil)

func (r *RetryingRecorder) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}
	return b
}

func (r *RetryingRecorder) attemptCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.AttemptTimeout)
}

func retry[T any](ctx context.Context, r *RetryingRecorder, name string, op func(context.Context) (T, error)) (T, int, error) {
	attempts := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		actx, cancel := r.attemptCtx(ctx)
		defer cancel()
		v, err := op(actx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrInvalidRecord) || errors.Is(err, ErrNotFound) {
			return v, backoff.Permanent(err)
		}
		r.logger.Warn("ledger call failed",
			slog.String("op", name),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()))
		return v, err
	}, backoff.WithBackOff(r.backOff()), backoff.WithMaxTries(r.cfg.MaxRetries+1))
	return result, attempts, err
}

// Append records rec, retrying transient failures. The record id is fixed before
// the first attempt so every retry carries the same id and idempotency key.
func (r *RetryingRecorder) Append(ctx context.Context, rec Record) (Receipt, error) {
	ctx, span := r.tracer.Start(ctx, "ledger.Append", trace.WithAttributes(
		attribute.String("ledger.record_type", string(rec.Type)),
		attribute.String("ledger.aggregate_id", rec.AggregateId),
		attribute.String("ledger.idempotency_key", rec.IdempotencyKey),
	))
	defer span.End()

	if rec.Id == "" {
		rec.Id = uuid.NewString()
	}

	receipt, attempts, err := retry(ctx, r, "append", func(ctx context.Context) (Receipt, error) {
		return r.next.Append(ctx, rec)
	})
	span.SetAttributes(attribute.Int("ledger.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger append failed")
		return Receipt{}, fmt.Errorf("failed to append %s record after %d attempts: %w", rec.Type, attempts, err)
	}
	span.SetAttributes(attribute.String("ledger.record_id", receipt.Id))
	return receipt, nil
}

func (r *RetryingRecorder) Get(ctx context.Context, id string) (Record, error) {
	ctx, span := r.tracer.Start(ctx, "ledger.Get", trace.WithAttributes(attribute.String("ledger.record_id", id)))
	defer span.End()

	rec, _, err := retry(ctx, r, "get", func(ctx context.Context) (Record, error) {
		return r.next.Get(ctx, id)
	})
	if err != nil {
		span.RecordError(err)
		return Record{}, err
	}
	return rec, nil
}

func (r *RetryingRecorder) History(ctx context.Context, aggregateID string) ([]Record, error) {
	ctx, span := r.tracer.Start(ctx, "ledger.History", trace.WithAttributes(attribute.String("ledger.aggregate_id", aggregateID)))
	defer span.End()

	recs, _, err := retry(ctx, r, "history", func(ctx context.Context) ([]Record, error) {
		return r.next.History(ctx, aggregateID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return recs, nil
}
