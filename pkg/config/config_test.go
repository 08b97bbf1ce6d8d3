package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()

	require.NoError(t, err)
	assert.Equal(t, LedgerMemory, cfg.LedgerBackend)
	assert.Equal(t, StorageDynamoDB, cfg.StorageBackend)
	assert.True(t, cfg.NeedsAWS())
	assert.Equal(t, "auctions", cfg.Tables.Auctions)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, int64(8), cfg.CloseConcurrency)

	rates, err := cfg.Rates()
	require.NoError(t, err)
	assert.True(t, rates.Multa.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, rates.Juros.Equal(decimal.RequireFromString("0.03")))

	retry := cfg.Retry()
	assert.Equal(t, uint(3), retry.MaxRetries)
	assert.Equal(t, 5*time.Second, retry.AttemptTimeout)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "sqlite")
	t.Setenv("LEDGER_SQLITE_PATH", "/tmp/ledger.db")
	t.Setenv("COMPENSATION_MULTA_RATE", "0.1")
	t.Setenv("LEDGER_MAX_RETRIES", "5")
	t.Setenv("DYNAMODB_OFFERS_TABLE_NAME", "offers-prod")
	t.Setenv("STORAGE_BACKEND", "memory")

	cfg, err := Parse()

	require.NoError(t, err)
	assert.Equal(t, LedgerSQLite, cfg.LedgerBackend)
	assert.Equal(t, "/tmp/ledger.db", cfg.LedgerSQLPath)
	assert.Equal(t, "offers-prod", cfg.Tables.Offers)
	assert.False(t, cfg.NeedsAWS())
	assert.Equal(t, uint(5), cfg.Retry().MaxRetries)
	rates, err := cfg.Rates()
	require.NoError(t, err)
	assert.True(t, rates.Multa.Equal(decimal.RequireFromString("0.1")))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"Bad duration", "SWEEP_INTERVAL", "soon", "parse env:"},
		{"Unknown backend", "LEDGER_BACKEND", "paper", "unknown ledger backend"},
		{"Unknown storage", "STORAGE_BACKEND", "floppy", "unknown storage backend"},
		{"Bad rate", "COMPENSATION_JUROS_RATE", "three percent", "COMPENSATION_JUROS_RATE"},
		{"Negative rate", "COMPENSATION_MULTA_RATE", "-0.05", "cannot be negative"},
		{"Fabric without profile", "LEDGER_BACKEND", "fabric", "FABRIC_CONNECTION_PROFILE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Parse()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
