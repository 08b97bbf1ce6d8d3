package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := WithMetadata(CodeInvalidBid, "bid too low", map[string]string{"next_minimum": "46000"})

	assert.ErrorIs(t, err, ErrInvalidBid)
	assert.NotErrorIs(t, err, ErrConflict)

	wrapped := fmt.Errorf("place bid: %w", err)
	assert.ErrorIs(t, wrapped, ErrInvalidBid)
	assert.Equal(t, CodeInvalidBid, CodeOf(wrapped))
}

func TestKinds(t *testing.T) {
	tests := []struct {
		code Code
		kind Kind
	}{
		{CodeInvalidAmount, KindValidation},
		{CodeNotTokenized, KindValidation},
		{CodeConflict, KindStateConflict},
		{CodeAuctionStillOpen, KindStateConflict},
		{CodeAuctionExpired, KindExpired},
		{CodeExpired, KindExpired},
		{CodeInsufficientBalance, KindInsufficientBalance},
		{CodeDegraded, KindLedgerWrite},
		{CodeNotFound, KindNotFound},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.code.Kind())
		})
	}
}

func TestRetryableAndCause(t *testing.T) {
	cause := stderrors.New("version mismatch")
	err := Wrap(CodeConflict, "instrument moved", cause)

	assert.True(t, err.Retryable())
	assert.ErrorIs(t, err, cause)
	assert.False(t, New(CodeExpired, "offer expired").Retryable())

	kind, ok := KindOf(fmt.Errorf("outer: %w", err))
	assert.True(t, ok)
	assert.Equal(t, KindStateConflict, kind)

	_, ok = KindOf(cause)
	assert.False(t, ok)
	assert.Equal(t, CodeUnknown, CodeOf(cause))
}
