package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

// GroupStore keeps crawl groups in memory. All mutations happen under one
// mutex, which makes JoinFirstFit atomic with respect to capacity.
type GroupStore struct {
	mu     sync.RWMutex
	groups map[string]bot.Group
	order  []string // insertion order, first-fit scans oldest first
}

// NewGroupStore constructs an empty GroupStore.
func NewGroupStore() *GroupStore {
	return &GroupStore{groups: make(map[string]bot.Group)}
}

// Get returns the group by id or bot.ErrNotFound.
func (s *GroupStore) Get(_ context.Context, id string) (bot.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return bot.Group{}, fmt.Errorf("group %s: %w", id, bot.ErrNotFound)
	}
	return cloneGroup(g), nil
}

// List returns groups matching the filter, oldest first.
func (s *GroupStore) List(_ context.Context, filter bot.GroupFilter) ([]bot.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bot.Group
	for _, id := range s.order {
		g := s.groups[id]
		if filter.Area != "" && g.Area != filter.Area {
			continue
		}
		if len(filter.Statuses) > 0 && !statusIn(g.Status, filter.Statuses) {
			continue
		}
		out = append(out, cloneGroup(g))
	}
	return out, nil
}

// Create stores a new group with the admin as its first member.
func (s *GroupStore) Create(_ context.Context, group bot.Group, admin bot.Member) (bot.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; ok {
		return bot.Group{}, fmt.Errorf("group %s: %w", group.ID, bot.ErrConflict)
	}
	admin.IsAdmin = true
	group.Members = []bot.Member{admin}
	s.groups[group.ID] = cloneGroup(group)
	s.order = append(s.order, group.ID)
	return cloneGroup(group), nil
}

// JoinFirstFit adds the member to the oldest forming group in the area with
// spare capacity. When groupType is non-empty only groups of that type match.
// Returns bot.ErrNotFound when no group fits and bot.ErrConflict when the
// member already belongs to a non-terminal group.
func (s *GroupStore) JoinFirstFit(_ context.Context, area, groupType string, member bot.Member) (bot.JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		g := s.groups[id]
		if !g.Status.Terminal() && g.HasMember(member.ProfileID) {
			return bot.JoinResult{}, fmt.Errorf("member %s: %w", member.ProfileID, bot.ErrConflict)
		}
	}
	for _, id := range s.order {
		g := s.groups[id]
		if g.Status != bot.GroupForming || g.Area != area {
			continue
		}
		if groupType != "" && g.GroupType != groupType {
			continue
		}
		if g.Full() {
			continue
		}
		g.Members = append(g.Members, member)
		s.groups[id] = g
		return bot.JoinResult{Group: cloneGroup(g), Ready: g.Full()}, nil
	}
	return bot.JoinResult{}, fmt.Errorf("no forming group in %s: %w", area, bot.ErrNotFound)
}

// MembershipFor returns the non-terminal group containing the profile, or
// bot.ErrNotFound.
func (s *GroupStore) MembershipFor(_ context.Context, profileID string) (bot.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		g := s.groups[id]
		if !g.Status.Terminal() && g.HasMember(profileID) {
			return cloneGroup(g), nil
		}
	}
	return bot.Group{}, fmt.Errorf("membership %s: %w", profileID, bot.ErrNotFound)
}

// Leave removes the profile from its forming group. The last member leaving
// cancels the group; a departing admin passes the role on.
func (s *GroupStore) Leave(_ context.Context, profileID string, now time.Time) (bot.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		g := s.groups[id]
		if g.Status != bot.GroupForming || !g.HasMember(profileID) {
			continue
		}
		var wasAdmin bool
		members := make([]bot.Member, 0, len(g.Members)-1)
		for _, m := range g.Members {
			if m.ProfileID == profileID {
				wasAdmin = m.IsAdmin
				continue
			}
			members = append(members, m)
		}
		g.Members = members
		g.UpdatedAt = now
		if len(members) == 0 {
			g.Status = bot.GroupCancelled
			g.EndedAt = now
		} else if wasAdmin {
			g.Members[0].IsAdmin = true
		}
		s.groups[id] = g
		return cloneGroup(g), nil
	}
	return bot.Group{}, fmt.Errorf("no forming group for %s: %w", profileID, bot.ErrNotFound)
}

// BeginCrawl moves a forming group to active with the given itinerary. The
// first stop is opened immediately.
func (s *GroupStore) BeginCrawl(_ context.Context, id string, stops []bot.CrawlStop, token string, eta, now time.Time) (bot.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return bot.Group{}, fmt.Errorf("group %s: %w", id, bot.ErrNotFound)
	}
	if g.Status != bot.GroupForming {
		return bot.Group{}, fmt.Errorf("group %s is %s: %w", id, g.Status, bot.ErrInvalidTransition)
	}
	g.Status = bot.GroupActive
	g.Stops = cloneStops(stops)
	g.Stops[0].StartedAt = now
	g.CurrentStop = 0
	g.AdvanceToken = token
	g.AdvanceETA = eta
	g.StartedAt = now
	g.UpdatedAt = now
	s.groups[id] = g
	return cloneGroup(g), nil
}

// AdvanceStop closes the current stop and opens the next. A token mismatch
// means a stale schedule and is reported as moved=false with no mutation.
// When the closed stop was the last, moved is false and the caller ends the
// session.
func (s *GroupStore) AdvanceStop(_ context.Context, id, token string, now time.Time) (bot.Group, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return bot.Group{}, false, fmt.Errorf("group %s: %w", id, bot.ErrNotFound)
	}
	if g.Status != bot.GroupActive {
		return bot.Group{}, false, fmt.Errorf("group %s is %s: %w", id, g.Status, bot.ErrInvalidTransition)
	}
	if g.AdvanceToken != token {
		return cloneGroup(g), false, nil
	}
	g.Stops[g.CurrentStop].EndedAt = now
	g.UpdatedAt = now
	if g.CurrentStop+1 >= len(g.Stops) {
		s.groups[id] = g
		return cloneGroup(g), false, nil
	}
	g.CurrentStop++
	g.Stops[g.CurrentStop].StartedAt = now
	s.groups[id] = g
	return cloneGroup(g), true, nil
}

// SetPendingAdvance records the token and ETA of the next scheduled advance.
func (s *GroupStore) SetPendingAdvance(_ context.Context, id, token string, eta time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("group %s: %w", id, bot.ErrNotFound)
	}
	g.AdvanceToken = token
	g.AdvanceETA = eta
	s.groups[id] = g
	return nil
}

// Complete marks the group completed. Terminal groups are left untouched so
// repeated sweeps stay idempotent.
func (s *GroupStore) Complete(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("group %s: %w", id, bot.ErrNotFound)
	}
	if g.Status.Terminal() {
		return nil
	}
	g.Status = bot.GroupCompleted
	g.EndedAt = now
	g.UpdatedAt = now
	s.groups[id] = g
	return nil
}

// Cancel marks the group cancelled. Cancelling a terminal group is an
// invalid transition.
func (s *GroupStore) Cancel(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("group %s: %w", id, bot.ErrNotFound)
	}
	if g.Status.Terminal() {
		return fmt.Errorf("group %s is %s: %w", id, g.Status, bot.ErrInvalidTransition)
	}
	g.Status = bot.GroupCancelled
	g.EndedAt = now
	g.UpdatedAt = now
	s.groups[id] = g
	return nil
}

func statusIn(status bot.GroupStatus, set []bot.GroupStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func cloneGroup(g bot.Group) bot.Group {
	out := g
	out.Members = append([]bot.Member(nil), g.Members...)
	out.Stops = cloneStops(g.Stops)
	return out
}

func cloneStops(stops []bot.CrawlStop) []bot.CrawlStop {
	return append([]bot.CrawlStop(nil), stops...)
}
