// Package reputation derives participant trust metrics from settlement outcomes.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/chris/tax-credit-settlement/pkg/clock"
	apperrors "github.com/chris/tax-credit-settlement/pkg/errors"
	"github.com/chris/tax-credit-settlement/pkg/events"
	"github.com/chris/tax-credit-settlement/pkg/lock"
	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/chris/tax-credit-settlement/pkg/storage"
	"github.com/google/uuid"
)

// maxSaveAttempts bounds re-reads when another process wrote the profile first.
const maxSaveAttempts = 3

// Scorer updates reputation profiles. Profiles change only through OnSettlement.
type Scorer struct {
	store     storage.ReputationStore
	locks     *lock.Keyed
	publisher events.Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// NewScorer creates a Scorer. A nil publisher drops events; a nil logger uses slog.Default().
func NewScorer(store storage.ReputationStore, publisher events.Publisher, clk clock.Clock, logger *slog.Logger) *Scorer {
	if publisher == nil {
		publisher = &events.NoOpPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		store:     store,
		locks:     lock.NewKeyed(),
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// OnSettlement folds one settlement outcome into the user's profile and returns the result.
func (s *Scorer) OnSettlement(ctx context.Context, userID string, role models.Role, outcome models.Outcome) (*models.ReputationProfile, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "user id is required")
	}
	switch role {
	case models.RoleBuyer, models.RoleSeller:
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown role %q", role)
	}
	switch outcome {
	case models.OutcomeSuccess, models.OutcomeFailure:
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown outcome %q", outcome)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	var (
		profile *models.ReputationProfile
		earned  []string
		err     error
	)
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		profile, err = s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		earned = s.apply(profile, role, outcome)

		err = s.store.SaveProfile(ctx, profile)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to save reputation profile: %w", err)
		}
		s.logger.Warn("reputation profile changed concurrently, retrying",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConflict, "reputation profile kept changing", err)
	}

	s.logger.Info("reputation updated",
		slog.String("user_id", userID),
		slog.String("outcome", string(outcome)),
		slog.Int64("score", profile.Score),
		slog.String("level", string(profile.Level)))

	payload := map[string]string{
		"role":    string(role),
		"outcome": string(outcome),
		"score":   strconv.FormatInt(profile.Score, 10),
		"level":   string(profile.Level),
	}
	for _, name := range earned {
		payload["badge:"+name] = "earned"
	}
	s.publish(ctx, events.Event{
		Id:          uuid.NewString(),
		Type:        events.TypeReputationUpdated,
		AggregateId: userID,
		OccurredAt:  profile.UpdatedAt,
		Payload:     payload,
	})

	return profile.Clone(), nil
}

// Profile returns the user's profile, or a zero bronze profile for unknown users.
func (s *Scorer) Profile(ctx context.Context, userID string) (*models.ReputationProfile, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "user id is required")
	}
	return s.load(ctx, userID)
}

func (s *Scorer) load(ctx context.Context, userID string) (*models.ReputationProfile, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return &models.ReputationProfile{UserId: userID, Level: models.LevelBronze}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reputation profile: %w", err)
	}
	return profile, nil
}

// apply updates counters, score, level and badges, returning newly earned badges.
func (s *Scorer) apply(p *models.ReputationProfile, role models.Role, outcome models.Outcome) []string {
	now := s.clock.Now()

	p.TotalTransactions++
	if outcome == models.OutcomeSuccess {
		p.SuccessfulTransactions++
	}
	switch role {
	case models.RoleBuyer:
		p.BuyerTransactions++
	case models.RoleSeller:
		p.SellerTransactions++
	}
	p.Score = Score(p.SuccessfulTransactions, p.TotalTransactions)
	p.Level = LevelFor(p.Score)
	p.UpdatedAt = now

	var earned []string
	for _, name := range earnedBadges(p) {
		if p.HasBadge(name) {
			continue
		}
		p.Badges = append(p.Badges, models.Badge{Name: name, EarnedAt: now})
		earned = append(earned, name)
	}
	return earned
}

func (s *Scorer) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}
