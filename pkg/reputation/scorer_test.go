package reputation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chris/tax-credit-settlement/pkg/clock"
	apperrors "github.com/chris/tax-credit-settlement/pkg/errors"
	"github.com/chris/tax-credit-settlement/pkg/events"
	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/chris/tax-credit-settlement/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(ctx context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func newTestScorer() (*Scorer, *capturePublisher, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	pub := &capturePublisher{}
	return NewScorer(memory.New(), pub, clk, nil), pub, clk
}

func TestScore(t *testing.T) {
	tests := []struct {
		name              string
		successful, total int64
		want              int64
	}{
		{"new user", 0, 0, 0},
		{"one success", 1, 1, 88},
		{"one failure", 0, 1, 0},
		{"ten successes", 10, 10, 383},
		{"hundred successes", 100, 100, 976},
		{"volume saturates", 1000, 1000, 997},
		{"mostly failures", 10, 100, 97},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.successful, tt.total)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, int64(0))
			assert.LessOrEqual(t, got, int64(MaxScore))
		})
	}
}

func TestScoreNonDecreasingOnSuccess(t *testing.T) {
	for total := int64(0); total < 300; total++ {
		for successful := int64(0); successful <= total; successful++ {
			before := Score(successful, total)
			after := Score(successful+1, total+1)
			if after < before {
				t.Fatalf("score dropped from %d to %d at s=%d t=%d", before, after, successful, total)
			}
		}
	}
}

func TestLevelFor(t *testing.T) {
	cases := map[int64]models.Level{
		0:    models.LevelBronze,
		199:  models.LevelBronze,
		200:  models.LevelSilver,
		399:  models.LevelSilver,
		400:  models.LevelGold,
		599:  models.LevelGold,
		600:  models.LevelPlatinum,
		799:  models.LevelPlatinum,
		800:  models.LevelDiamond,
		1000: models.LevelDiamond,
	}
	for score, want := range cases {
		assert.Equal(t, want, LevelFor(score), "score %d", score)
	}
}

func TestOnSettlement(t *testing.T) {
	ctx := context.Background()

	t.Run("First success", func(t *testing.T) {
		s, pub, _ := newTestScorer()

		p, err := s.OnSettlement(ctx, "u-1", models.RoleBuyer, models.OutcomeSuccess)

		require.NoError(t, err)
		assert.Equal(t, int64(1), p.TotalTransactions)
		assert.Equal(t, int64(1), p.SuccessfulTransactions)
		assert.Equal(t, int64(1), p.BuyerTransactions)
		assert.Equal(t, int64(88), p.Score)
		assert.Equal(t, models.LevelBronze, p.Level)
		assert.True(t, p.HasBadge(BadgeFirstSettlement))
		require.Len(t, pub.events, 1)
		assert.Equal(t, events.TypeReputationUpdated, pub.events[0].Type)
		assert.Equal(t, "earned", pub.events[0].Payload["badge:"+BadgeFirstSettlement])
	})

	t.Run("Failure counts but does not score", func(t *testing.T) {
		s, _, _ := newTestScorer()

		p, err := s.OnSettlement(ctx, "u-1", models.RoleSeller, models.OutcomeFailure)

		require.NoError(t, err)
		assert.Equal(t, int64(1), p.TotalTransactions)
		assert.Equal(t, int64(0), p.SuccessfulTransactions)
		assert.Equal(t, int64(1), p.SellerTransactions)
		assert.Equal(t, int64(0), p.Score)
		assert.Empty(t, p.Badges)
	})

	t.Run("Badges are earned once", func(t *testing.T) {
		s, _, clk := newTestScorer()
		firstAt := clk.Now()

		var p *models.ReputationProfile
		var err error
		for i := 0; i < 100; i++ {
			p, err = s.OnSettlement(ctx, "u-1", models.RoleSeller, models.OutcomeSuccess)
			require.NoError(t, err)
			clk.Advance(time.Hour)
		}

		assert.Equal(t, models.LevelDiamond, p.Level)
		names := make(map[string]int)
		for _, b := range p.Badges {
			names[b.Name]++
		}
		assert.Equal(t, map[string]int{
			BadgeFirstSettlement: 1,
			BadgeTrustedTrader:   1,
			BadgeCenturion:       1,
			BadgeDiamondTier:     1,
		}, names)
		assert.Equal(t, firstAt, p.Badges[0].EarnedAt)
	})

	t.Run("Invalid input", func(t *testing.T) {
		s, _, _ := newTestScorer()

		_, err := s.OnSettlement(ctx, "", models.RoleBuyer, models.OutcomeSuccess)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

		_, err = s.OnSettlement(ctx, "u-1", models.Role("broker"), models.OutcomeSuccess)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

		_, err = s.OnSettlement(ctx, "u-1", models.RoleBuyer, models.Outcome("maybe"))
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("Concurrent settlements are all counted", func(t *testing.T) {
		s, _, _ := newTestScorer()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.OnSettlement(ctx, "u-1", models.RoleBuyer, models.OutcomeSuccess)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		p, err := s.Profile(ctx, "u-1")
		require.NoError(t, err)
		assert.Equal(t, int64(20), p.TotalTransactions)
		assert.Equal(t, int64(20), p.Version)
	})
}

func TestProfile(t *testing.T) {
	s, _, _ := newTestScorer()

	p, err := s.Profile(context.Background(), "stranger")

	require.NoError(t, err)
	assert.Equal(t, "stranger", p.UserId)
	assert.Equal(t, int64(0), p.Score)
	assert.Equal(t, models.LevelBronze, p.Level)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) SaveProfile(context.Context, *models.ReputationProfile) error {
	return errors.New("disk full")
}

func TestOnSettlementStorageError(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewScorer(failingStore{memory.New()}, nil, clk, nil)

	_, err := s.OnSettlement(context.Background(), "u-1", models.RoleBuyer, models.OutcomeSuccess)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
