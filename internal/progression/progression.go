// Package progression runs a group's crawl: activation with a random venue
// itinerary, timed advances from bar to bar, session end and the overnight
// safety sweep.
package progression

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/metrics"
	"github.com/barcrawlhq/crawlbot/internal/responses"
	"github.com/barcrawlhq/crawlbot/internal/settings"
)

const (
	minVenues = 3
	maxVenues = 5

	// no new bar announcements at or after this hour
	lastCallHour = 23
)

// Scheduler drives crawl sessions. All waiting is modeled as deferred tasks;
// nothing here blocks.
type Scheduler struct {
	groups    bot.GroupStore
	venues    bot.VenueStore
	settings  *settings.Service
	catalog   *responses.Catalog
	clock     bot.Clock
	ids       bot.IDGenerator
	exec      bot.Executor
	publisher bot.Publisher
	logger    *zap.Logger
}

// New constructs a Scheduler.
func New(
	groups bot.GroupStore,
	venues bot.VenueStore,
	settings *settings.Service,
	catalog *responses.Catalog,
	clock bot.Clock,
	ids bot.IDGenerator,
	exec bot.Executor,
	publisher bot.Publisher,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		groups:    groups,
		venues:    venues,
		settings:  settings,
		catalog:   catalog,
		clock:     clock,
		ids:       ids,
		exec:      exec,
		publisher: publisher,
		logger:    logger,
	}
}

// Activate starts the crawl for a confirmed group: samples the itinerary,
// opens the first stop and schedules the first advance. Reactivating an
// already active or terminal group is a no-op.
func (s *Scheduler) Activate(ctx context.Context, groupID string) error {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return fmt.Errorf("loading group %s: %w", groupID, err)
	}
	if group.Status != bot.GroupForming {
		s.logger.Info("activation skipped, group not forming",
			zap.String("group_id", groupID), zap.String("status", string(group.Status)))
		return nil
	}

	available, err := s.venues.ListByArea(ctx, group.Area)
	if err != nil {
		return fmt.Errorf("listing venues in %s: %w", group.Area, err)
	}
	if len(available) < minVenues {
		s.logger.Warn("not enough venues to start crawl",
			zap.String("group_id", groupID),
			zap.String("area", group.Area),
			zap.Int("available", len(available)))
		s.notifyMembers(ctx, group, s.catalog.Render(responses.NotEnoughVenues, map[string]string{
			"area": group.Area,
		}))
		return fmt.Errorf("activating group %s in %s: %w", groupID, group.Area, bot.ErrNotEnoughVenues)
	}

	stops := sampleStops(available)
	token, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generating advance token: %w", err)
	}
	now := s.clock.Now()
	stayTime := s.settings.BarProgressionTime()

	group, err = s.groups.BeginCrawl(ctx, groupID, stops, token, now.Add(stayTime), now)
	if err != nil {
		if errors.Is(err, bot.ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("starting crawl for %s: %w", groupID, err)
	}
	metrics.ObserveGroupTransition(string(bot.GroupActive))
	s.publish(ctx, bot.Event{Type: bot.EventGroupActivated, GroupID: group.ID, Area: group.Area, At: now})
	s.logger.Info("crawl started",
		zap.String("group_id", group.ID),
		zap.String("area", group.Area),
		zap.Int("stops", len(group.Stops)))

	first := group.Stops[0].Venue
	s.notifyMembers(ctx, group, s.catalog.Render(responses.CrawlFirstStop, map[string]string{
		"venue":   first.Name,
		"address": first.Address,
		"minutes": strconv.Itoa(int(stayTime.Minutes())),
	}))
	s.notifyMembers(ctx, group, s.catalog.Render(responses.CrawlRules, nil))

	if s.settings.AutoProgression() {
		s.scheduleAdvance(ctx, group.ID, token, stayTime)
	}
	return nil
}

// Advance moves the group to its next bar. A token that no longer matches
// the group's pending advance means a superseded schedule and does nothing.
func (s *Scheduler) Advance(ctx context.Context, groupID, token string) error {
	now := s.clock.Now()
	group, moved, err := s.groups.AdvanceStop(ctx, groupID, token, now)
	if err != nil {
		if errors.Is(err, bot.ErrInvalidTransition) || errors.Is(err, bot.ErrNotFound) {
			s.logger.Info("advance skipped", zap.String("group_id", groupID), zap.Error(err))
			return nil
		}
		return fmt.Errorf("advancing group %s: %w", groupID, err)
	}
	if group.AdvanceToken != token {
		s.logger.Info("stale advance ignored", zap.String("group_id", groupID))
		return nil
	}

	if !moved {
		// The last stop just closed.
		return s.EndSession(ctx, groupID)
	}

	next := group.Stops[group.CurrentStop].Venue
	s.notifyMembers(ctx, group, s.catalog.Render(responses.CrawlNextBar, map[string]string{
		"venue":   next.Name,
		"address": next.Address,
	}))
	metrics.ObserveGroupTransition("advanced")
	s.publish(ctx, bot.Event{
		Type: bot.EventGroupAdvanced, GroupID: group.ID, Area: group.Area, At: now,
		Detail: next.Name,
	})

	stayTime := s.settings.BarProgressionTime()
	hasNext := group.CurrentStop+1 < len(group.Stops)
	if hasNext && now.Hour() < lastCallHour && s.settings.AutoProgression() {
		newToken, err := s.ids.NewID()
		if err != nil {
			return fmt.Errorf("generating advance token: %w", err)
		}
		if err := s.groups.SetPendingAdvance(ctx, group.ID, newToken, now.Add(stayTime)); err != nil {
			return fmt.Errorf("recording pending advance: %w", err)
		}
		s.scheduleAdvance(ctx, group.ID, newToken, stayTime)
		return nil
	}

	// Final bar, either by itinerary or by the late-night cutoff. Let the
	// group enjoy it, then wrap up.
	s.scheduleEnd(ctx, group.ID, stayTime)
	return nil
}

// EndSession completes an active crawl and says goodbye. Safe to call more
// than once.
func (s *Scheduler) EndSession(ctx context.Context, groupID string) error {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		if errors.Is(err, bot.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading group %s: %w", groupID, err)
	}
	if group.Status.Terminal() {
		return nil
	}

	now := s.clock.Now()
	if err := s.groups.Complete(ctx, groupID, now); err != nil {
		return fmt.Errorf("completing group %s: %w", groupID, err)
	}
	metrics.ObserveGroupTransition(string(bot.GroupCompleted))
	s.publish(ctx, bot.Event{Type: bot.EventGroupCompleted, GroupID: group.ID, Area: group.Area, At: now})
	s.logger.Info("crawl completed", zap.String("group_id", group.ID))
	s.notifyMembers(ctx, group, s.catalog.Render(responses.CrawlComplete, nil))
	return nil
}

// DailySweep force-completes every still-active group. It runs each morning
// as a safety net; a repeated run finds nothing to do.
func (s *Scheduler) DailySweep(ctx context.Context) error {
	active, err := s.groups.List(ctx, bot.GroupFilter{Statuses: []bot.GroupStatus{bot.GroupActive}})
	if err != nil {
		return fmt.Errorf("listing active groups: %w", err)
	}
	now := s.clock.Now()
	for _, group := range active {
		if err := s.groups.Complete(ctx, group.ID, now); err != nil {
			s.logger.Error("sweep failed to complete group",
				zap.String("group_id", group.ID), zap.Error(err))
			continue
		}
		metrics.ObserveGroupTransition(string(bot.GroupCompleted))
		s.publish(ctx, bot.Event{
			Type: bot.EventGroupCompleted, GroupID: group.ID, Area: group.Area, At: now,
			Detail: "daily sweep",
		})
		s.notifyMembers(ctx, group, s.catalog.Render(responses.CrawlMorningEnd, nil))
	}
	if len(active) > 0 {
		s.logger.Info("daily sweep completed groups", zap.Int("count", len(active)))
	}
	return nil
}

// sampleStops picks a random itinerary of min(5, len(venues)) bars.
func sampleStops(venues []bot.Venue) []bot.CrawlStop {
	shuffled := append([]bot.Venue(nil), venues...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	n := maxVenues
	if len(shuffled) < n {
		n = len(shuffled)
	}
	stops := make([]bot.CrawlStop, n)
	for i := 0; i < n; i++ {
		stops[i] = bot.CrawlStop{Venue: shuffled[i], Order: i}
	}
	return stops
}

func (s *Scheduler) scheduleAdvance(ctx context.Context, groupID, token string, delay time.Duration) {
	task, err := bot.NewTask(bot.TaskAdvanceCrawl, bot.AdvanceCrawlPayload{GroupID: groupID, Token: token})
	if err != nil {
		s.logger.Error("building advance task", zap.Error(err))
		return
	}
	if err := s.exec.SubmitAfter(ctx, task, delay); err != nil {
		s.logger.Error("scheduling advance", zap.String("group_id", groupID), zap.Error(err))
	}
}

func (s *Scheduler) scheduleEnd(ctx context.Context, groupID string, delay time.Duration) {
	task, err := bot.NewTask(bot.TaskEndSession, bot.EndSessionPayload{GroupID: groupID})
	if err != nil {
		s.logger.Error("building end task", zap.Error(err))
		return
	}
	if err := s.exec.SubmitAfter(ctx, task, delay); err != nil {
		s.logger.Error("scheduling session end", zap.String("group_id", groupID), zap.Error(err))
	}
}

func (s *Scheduler) notifyMembers(ctx context.Context, group bot.Group, text string) {
	for _, m := range group.Members {
		task, err := bot.NewTask(bot.TaskSendMessage, bot.SendMessagePayload{To: m.Number, Text: text})
		if err != nil {
			s.logger.Error("building send task", zap.Error(err))
			return
		}
		if err := s.exec.Submit(ctx, task); err != nil {
			s.logger.Error("queueing member notification",
				zap.String("to", m.Number), zap.Error(err))
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, event bot.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
