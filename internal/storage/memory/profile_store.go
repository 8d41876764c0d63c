package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

// ProfileStore keeps user profiles in memory, keyed by phone number.
type ProfileStore struct {
	mu       sync.RWMutex
	byNumber map[string]bot.UserProfile
}

// NewProfileStore constructs an empty ProfileStore.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{byNumber: make(map[string]bot.UserProfile)}
}

// Create stores a new profile, failing with bot.ErrConflict if the number is
// already registered.
func (s *ProfileStore) Create(_ context.Context, profile bot.UserProfile) (bot.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byNumber[profile.Number]; ok {
		return bot.UserProfile{}, fmt.Errorf("profile %s: %w", profile.Number, bot.ErrConflict)
	}
	s.byNumber[profile.Number] = profile
	return profile, nil
}

// GetByNumber returns the profile for a phone number or bot.ErrNotFound.
func (s *ProfileStore) GetByNumber(_ context.Context, number string) (bot.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byNumber[number]
	if !ok {
		return bot.UserProfile{}, fmt.Errorf("profile %s: %w", number, bot.ErrNotFound)
	}
	return p, nil
}
