package dynamodb

import (
	"context"
	"errors"

	"github.com/chris/tax-credit-settlement/pkg/models"
	"github.com/chris/tax-credit-settlement/pkg/storage"
)

// GetProfile retrieves a user's reputation profile from DynamoDB.
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.ReputationProfile, error) {
	var p models.ReputationProfile
	if err := s.getItem(ctx, s.ProfilesTableName, "user_id", userID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProfile creates the profile at version 0, otherwise performs a versioned write.
func (s *Store) SaveProfile(ctx context.Context, profile *models.ReputationProfile) error {
	item := profile.Clone()
	item.Version = profile.Version + 1

	var err error
	if profile.Version == 0 {
		err = s.putNew(ctx, s.ProfilesTableName, "user_id", item)
		if errors.Is(err, storage.ErrAlreadyExists) {
			err = storage.ErrVersionConflict
		}
	} else {
		err = s.putVersioned(ctx, s.ProfilesTableName, "user_id", item, profile.Version)
	}
	if err != nil {
		return err
	}
	profile.Version = item.Version
	return nil
}
