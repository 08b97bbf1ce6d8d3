package reputation

import "github.com/chris/tax-credit-settlement/pkg/models"

const (
	MaxScore = 1000

	// priorWeight damps the success rate of participants with few settlements.
	priorWeight = 5
	// volumeCap is the number of successes at which the volume term saturates.
	volumeCap = 100
)

// Badges, each earned at most once.
const (
	BadgeFirstSettlement = "first_settlement"
	BadgeTrustedTrader   = "trusted_trader"
	BadgeCenturion       = "centurion"
	BadgeDiamondTier     = "diamond_tier"
)

// Score is ⌊500·s/(t+5) + 500·min(1, s/100)⌋ clamped to [0, MaxScore], where s
// counts successful settlements and t all settlements. Half the score rewards the
// damped success rate and half rewards volume.
func Score(successful, total int64) int64 {
	if successful < 0 || total < 0 {
		return 0
	}
	rate := 500 * successful / (total + priorWeight)
	volume := 500 * min(successful, volumeCap) / volumeCap
	return max(0, min(rate+volume, MaxScore))
}

// LevelFor maps a score to its level.
func LevelFor(score int64) models.Level {
	switch {
	case score >= 800:
		return models.LevelDiamond
	case score >= 600:
		return models.LevelPlatinum
	case score >= 400:
		return models.LevelGold
	case score >= 200:
		return models.LevelSilver
	default:
		return models.LevelBronze
	}
}

// earnedBadges lists the badges a profile qualifies for.
func earnedBadges(p *models.ReputationProfile) []string {
	var names []string
	if p.SuccessfulTransactions >= 1 {
		names = append(names, BadgeFirstSettlement)
	}
	if p.SuccessfulTransactions >= 10 {
		names = append(names, BadgeTrustedTrader)
	}
	if p.SuccessfulTransactions >= 100 {
		names = append(names, BadgeCenturion)
	}
	if p.Level == models.LevelDiamond {
		names = append(names, BadgeDiamondTier)
	}
	return names
}
