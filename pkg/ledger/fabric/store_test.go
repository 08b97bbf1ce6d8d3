package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chris/tax-credit-settlement/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockContract struct {
	mock.Mock
}

func (m *mockContract) SubmitTransaction(name string, args ...string) ([]byte, error) {
	ret := m.Called(name, args)
	payload, _ := ret.Get(0).([]byte)
	return payload, ret.Error(1)
}

func (m *mockContract) EvaluateTransaction(name string, args ...string) ([]byte, error) {
	ret := m.Called(name, args)
	payload, _ := ret.Get(0).([]byte)
	return payload, ret.Error(1)
}

var submittedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAppend(t *testing.T) {
	rec := ledger.NewRecord(ledger.RecordTransferConfirmed, "tc-1", "transfer:tc-1:o-1", submittedAt, map[string]string{"buyer_id": "buyer"})

	t.Run("Success", func(t *testing.T) {
		contract := new(mockContract)
		store := New(contract)

		contract.On("SubmitTransaction", fnAppend, mock.MatchedBy(func(args []string) bool {
			var sent ledger.Record
			return len(args) == 1 && json.Unmarshal([]byte(args[0]), &sent) == nil &&
				sent.IdempotencyKey == "transfer:tc-1:o-1" && sent.Id != ""
		})).Return([]byte(`{"id":"r-1","protocol":"fabric-tx-9"}`), nil)

		receipt, err := store.Append(context.Background(), rec)

		require.NoError(t, err)
		assert.Equal(t, "r-1", receipt.Id)
		assert.Equal(t, "fabric-tx-9", receipt.Protocol)
		contract.AssertExpectations(t)
	})

	t.Run("Endorsement Fails", func(t *testing.T) {
		contract := new(mockContract)
		store := New(contract)

		contract.On("SubmitTransaction", fnAppend, mock.Anything).Return(nil, errors.New("endorsement failure"))

		_, err := store.Append(context.Background(), rec)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "endorsement failure")
	})

	t.Run("Context Cancelled", func(t *testing.T) {
		contract := new(mockContract)
		store := New(contract)
		release := make(chan struct{})
		defer close(release)

		contract.On("SubmitTransaction", fnAppend, mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return([]byte(`{}`), nil).Maybe()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := store.Append(ctx, rec)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestGet(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		contract := new(mockContract)
		store := New(contract)

		stored := ledger.NewRecord(ledger.RecordBidPlaced, "a-1", "bid:b-1", submittedAt, nil)
		stored.Id = "r-1"
		body, _ := json.Marshal(stored)
		contract.On("EvaluateTransaction", fnGet, []string{"r-1"}).Return(body, nil)

		got, err := store.Get(context.Background(), "r-1")

		require.NoError(t, err)
		assert.Equal(t, "bid:b-1", got.IdempotencyKey)
	})

	t.Run("Not Found", func(t *testing.T) {
		contract := new(mockContract)
		store := New(contract)

		contract.On("EvaluateTransaction", fnGet, []string{"missing"}).Return([]byte{}, nil)

		_, err := store.Get(context.Background(), "missing")

		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestHistory(t *testing.T) {
	contract := new(mockContract)
	store := New(contract)

	records := []ledger.Record{
		ledger.NewRecord(ledger.RecordAuctionCreated, "a-1", "create:a-1", submittedAt, nil),
		ledger.NewRecord(ledger.RecordAuctionClosed, "a-1", "close:a-1", submittedAt.Add(time.Hour), nil),
	}
	body, _ := json.Marshal(records)
	contract.On("EvaluateTransaction", fnHistory, []string{"a-1"}).Return(body, nil)

	got, err := store.History(context.Background(), "a-1")

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ledger.RecordAuctionClosed, got[1].Type)
}
