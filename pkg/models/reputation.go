package models

import "time"

// Level is the trust tier derived from a reputation score.
type Level string

const (
	LevelBronze   Level = "bronze"
	LevelSilver   Level = "silver"
	LevelGold     Level = "gold"
	LevelPlatinum Level = "platinum"
	LevelDiamond  Level = "diamond"
)

// Role is the side a participant took in a settlement.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Outcome is the result of a settlement.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Badge is an achievement earned at most once.
type Badge struct {
	Name     string    `json:"name" dynamodbav:"name"`
	EarnedAt time.Time `json:"earned_at" dynamodbav:"earned_at"`
}

// ReputationProfile holds a participant's trust metrics. It is only updated as a
// side effect of settlements.
type ReputationProfile struct {
	UserId                 string    `json:"user_id" dynamodbav:"user_id"`
	Score                  int64     `json:"score" dynamodbav:"score"`
	TotalTransactions      int64     `json:"total_transactions" dynamodbav:"total_transactions"`
	SuccessfulTransactions int64     `json:"successful_transactions" dynamodbav:"successful_transactions"`
	BuyerTransactions      int64     `json:"buyer_transactions" dynamodbav:"buyer_transactions"`
	SellerTransactions     int64     `json:"seller_transactions" dynamodbav:"seller_transactions"`
	Level                  Level     `json:"level" dynamodbav:"level"`
	Badges                 []Badge   `json:"badges" dynamodbav:"badges"`
	Version                int64     `json:"version" dynamodbav:"version"`
	UpdatedAt              time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// HasBadge reports whether the named badge was already earned.
func (p *ReputationProfile) HasBadge(name string) bool {
	for _, b := range p.Badges {
		if b.Name == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the profile.
func (p *ReputationProfile) Clone() *ReputationProfile {
	cp := *p
	cp.Badges = append([]Badge(nil), p.Badges...)
	return &cp
}
