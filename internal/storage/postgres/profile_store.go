package postgres

import (
	"context"
	"fmt"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

// ProfileStore persists user profiles.
type ProfileStore struct {
	db DB
}

// NewProfileStore constructs a ProfileStore over the given pool.
func NewProfileStore(db DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Create inserts a new profile. A duplicate phone number maps to
// bot.ErrConflict.
func (s *ProfileStore) Create(ctx context.Context, profile bot.UserProfile) (bot.UserProfile, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO profiles (id, number, area, group_type, gender, age_range, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		profile.ID, profile.Number, profile.Area, profile.GroupType,
		profile.Gender, profile.AgeRange, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return bot.UserProfile{}, fmt.Errorf("inserting profile %s: %w", profile.Number, translateErr(err))
	}
	return profile, nil
}

// GetByNumber loads the profile for a phone number.
func (s *ProfileStore) GetByNumber(ctx context.Context, number string) (bot.UserProfile, error) {
	var p bot.UserProfile
	err := s.db.QueryRow(ctx,
		`SELECT id, number, area, group_type, gender, age_range, created_at, updated_at
		 FROM profiles WHERE number = $1`, number,
	).Scan(&p.ID, &p.Number, &p.Area, &p.GroupType, &p.Gender, &p.AgeRange, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return bot.UserProfile{}, fmt.Errorf("loading profile %s: %w", number, translateErr(err))
	}
	return p, nil
}
