package ledger_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	apperrors "github.com/chris/tax-credit-settlement/pkg/errors"
	"github.com/chris/tax-credit-settlement/pkg/ledger"
	"github.com/chris/tax-credit-settlement/pkg/ledger/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRecord(key string) ledger.Record {
	return ledger.NewRecord(ledger.RecordBidPlaced, "a-1", key, testTime, map[string]string{"amount": ledger.Amount(90000)})
}

func fastRetry() ledger.RetryConfig {
	return ledger.RetryConfig{
		MaxRetries:      3,
		AttemptTimeout:  time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestMemoryRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("Append is idempotent by key", func(t *testing.T) {
		r := ledger.NewMemoryRecorder()
		first, err := r.Append(ctx, testRecord("bid:b-1"))
		require.NoError(t, err)
		assert.True(t, first.HasProtocol())

		again, err := r.Append(ctx, testRecord("bid:b-1"))
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("Get and History", func(t *testing.T) {
		r := ledger.NewMemoryRecorder()
		a, err := r.Append(ctx, testRecord("bid:b-1"))
		require.NoError(t, err)
		_, err = r.Append(ctx, testRecord("bid:b-2"))
		require.NoError(t, err)
		other := ledger.NewRecord(ledger.RecordOfferAccepted, "o-1", "offer:o-1", testTime, nil)
		_, err = r.Append(ctx, other)
		require.NoError(t, err)

		got, err := r.Get(ctx, a.Id)
		require.NoError(t, err)
		assert.Equal(t, "bid:b-1", got.IdempotencyKey)

		history, err := r.History(ctx, "a-1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "bid:b-2", history[1].IdempotencyKey)

		_, err = r.Get(ctx, "missing")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("Rejects invalid records", func(t *testing.T) {
		r := ledger.NewMemoryRecorder()
		_, err := r.Append(ctx, ledger.Record{AggregateId: "a-1"})
		assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
	})
}

func TestRetryingRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("Succeeds after transient failures", func(t *testing.T) {
		next := mocks.NewRecorder(t)
		var ids []string
		next.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			ids = append(ids, args.Get(1).(ledger.Record).Id)
		}).Twice().Return(ledger.Receipt{}, errors.New("unavailable"))
		next.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			ids = append(ids, args.Get(1).(ledger.Record).Id)
		}).Once().Return(ledger.Receipt{Id: "r-1"}, nil)

		r := ledger.NewRetryingRecorder(next, fastRetry(), nil)
		receipt, err := r.Append(ctx, testRecord("bid:b-1"))

		require.NoError(t, err)
		assert.Equal(t, "r-1", receipt.Id)
		require.Len(t, ids, 3)
		assert.NotEmpty(t, ids[0])
		assert.Equal(t, ids[0], ids[2])
	})

	t.Run("Gives up after three retries", func(t *testing.T) {
		next := mocks.NewRecorder(t)
		next.On("Append", mock.Anything, mock.Anything).Times(4).Return(ledger.Receipt{}, errors.New("unavailable"))

		r := ledger.NewRetryingRecorder(next, fastRetry(), nil)
		_, err := r.Append(ctx, testRecord("bid:b-1"))

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "after 4 attempts")
	})

	t.Run("Invalid records are not retried", func(t *testing.T) {
		next := mocks.NewRecorder(t)
		next.On("Append", mock.Anything, mock.Anything).Once().Return(ledger.Receipt{}, ledger.ErrInvalidRecord)

		r := ledger.NewRetryingRecorder(next, fastRetry(), nil)
		_, err := r.Append(ctx, testRecord("bid:b-1"))

		assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
	})

	t.Run("Get miss is not retried", func(t *testing.T) {
		next := mocks.NewRecorder(t)
		next.On("Get", mock.Anything, "missing").Once().Return(ledger.Record{}, ledger.ErrNotFound)

		r := ledger.NewRetryingRecorder(next, fastRetry(), nil)
		_, err := r.Get(ctx, "missing")

		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestCachedRecorder(t *testing.T) {
	ctx := context.Background()
	next := mocks.NewRecorder(t)
	rec := testRecord("bid:b-1")
	rec.Id = "r-1"

	next.On("Get", mock.Anything, "r-1").Once().Return(rec, nil)
	next.On("Append", mock.Anything, mock.Anything).Once().Return(ledger.Receipt{Id: "r-2", Protocol: "tx-2"}, nil)

	c, err := ledger.NewCachedRecorder(next, 16)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := c.Get(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, "bid:b-1", got.IdempotencyKey)
	}

	_, err = c.Append(ctx, testRecord("bid:b-2"))
	require.NoError(t, err)
	got, err := c.Get(ctx, "r-2")
	require.NoError(t, err)
	assert.Equal(t, "tx-2", got.Protocol)

	_, err = ledger.NewCachedRecorder(next, 0)
	assert.Error(t, err)
}

func TestCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("Success skips rollback", func(t *testing.T) {
		r := ledger.NewMemoryRecorder()
		receipt, err := ledger.Commit(ctx, nil, r, testRecord("bid:b-1"), func(context.Context) error {
			t.Fatal("rollback must not run")
			return nil
		})
		require.NoError(t, err)
		assert.NotEmpty(t, receipt.Id)
	})

	t.Run("Failure rolls back and degrades", func(t *testing.T) {
		next := mocks.NewRecorder(t)
		next.On("Append", mock.Anything, mock.Anything).Return(ledger.Receipt{}, errors.New("unavailable"))

		rolledBack := false
		_, err := ledger.Commit(ctx, nil, next, testRecord("bid:b-1"), func(context.Context) error {
			rolledBack = true
			return nil
		})

		assert.True(t, rolledBack)
		assert.ErrorIs(t, err, apperrors.ErrDegraded)
		kind, ok := apperrors.KindOf(err)
		assert.True(t, ok)
		assert.Equal(t, apperrors.KindLedgerWrite, kind)
	})

	t.Run("Rollback failure is reported", func(t *testing.T) {
		next := mocks.NewRecorder(t)
		next.On("Append", mock.Anything, mock.Anything).Return(ledger.Receipt{}, errors.New("unavailable"))

		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, nil))

		_, err := ledger.Commit(ctx, logger, next, testRecord("bid:b-1"), func(context.Context) error {
			return errors.New("store down")
		})

		assert.ErrorIs(t, err, apperrors.ErrDegraded)
		assert.Contains(t, err.Error(), "rollback failed: store down")
		assert.Contains(t, logs.String(), "ledger write failed, rolling back")
		assert.Contains(t, logs.String(), "rollback after ledger failure failed")
		assert.Contains(t, logs.String(), "store down")
	})
}
