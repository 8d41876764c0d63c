package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

// VenueStore keeps venues in memory.
type VenueStore struct {
	mu     sync.RWMutex
	venues map[string]bot.Venue
	order  []string
}

// NewVenueStore constructs an empty VenueStore.
func NewVenueStore() *VenueStore {
	return &VenueStore{venues: make(map[string]bot.Venue)}
}

// Create stores a new venue.
func (s *VenueStore) Create(_ context.Context, venue bot.Venue) (bot.Venue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.venues[venue.ID]; ok {
		return bot.Venue{}, fmt.Errorf("venue %s: %w", venue.ID, bot.ErrConflict)
	}
	s.venues[venue.ID] = venue
	s.order = append(s.order, venue.ID)
	return venue, nil
}

// ListByArea returns active venues in the area, insertion order.
func (s *VenueStore) ListByArea(_ context.Context, area string) ([]bot.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bot.Venue
	for _, id := range s.order {
		v := s.venues[id]
		if v.Active && v.Area == area {
			out = append(out, v)
		}
	}
	return out, nil
}

// List returns all venues, insertion order.
func (s *VenueStore) List(_ context.Context) ([]bot.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bot.Venue, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.venues[id])
	}
	return out, nil
}
