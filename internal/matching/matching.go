// Package matching places registered users into crawl groups: first-fit
// joins with capacity as a hard ceiling, group creation when nothing fits,
// and the confirmation step that gates activation.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/metrics"
	"github.com/barcrawlhq/crawlbot/internal/responses"
	"github.com/barcrawlhq/crawlbot/internal/settings"
)

const (
	pendingConfirmPrefix = "pending_confirm:"
	activatingPrefix     = "activating:"

	// how long a searching user waits before the matcher looks again
	repollInterval = 5 * time.Minute
)

// Service runs the matching flow.
type Service struct {
	groups    bot.GroupStore
	profiles  bot.ProfileStore
	kv        bot.KV
	settings  *settings.Service
	catalog   *responses.Catalog
	clock     bot.Clock
	ids       bot.IDGenerator
	exec      bot.Executor
	publisher bot.Publisher
	logger    *zap.Logger
}

// New constructs a Service.
func New(
	groups bot.GroupStore,
	profiles bot.ProfileStore,
	kv bot.KV,
	settings *settings.Service,
	catalog *responses.Catalog,
	clock bot.Clock,
	ids bot.IDGenerator,
	exec bot.Executor,
	publisher bot.Publisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		groups:    groups,
		profiles:  profiles,
		kv:        kv,
		settings:  settings,
		catalog:   catalog,
		clock:     clock,
		ids:       ids,
		exec:      exec,
		publisher: publisher,
		logger:    logger,
	}
}

// FindGroup places the user into a group and returns the reply to send them.
// Users already in a live group get a status message instead.
func (s *Service) FindGroup(ctx context.Context, number string) (string, error) {
	profile, err := s.profiles.GetByNumber(ctx, number)
	if err != nil {
		return "", fmt.Errorf("loading profile %s: %w", number, err)
	}

	if current, err := s.groups.MembershipFor(ctx, profile.ID); err == nil {
		// Still forming and not full: keep polling so the user hears
		// about progress.
		if current.Status == bot.GroupForming && !current.Full() {
			s.scheduleRepoll(ctx, number)
		}
		return s.statusReply(current), nil
	} else if !errors.Is(err, bot.ErrNotFound) {
		return "", fmt.Errorf("checking membership: %w", err)
	}

	groupType := ""
	if s.settings.SmartMatching() {
		groupType = profile.GroupType
	}
	member := bot.Member{ProfileID: profile.ID, Number: profile.Number, JoinedAt: s.clock.Now()}

	res, err := s.groups.JoinFirstFit(ctx, profile.Area, groupType, member)
	if err == nil {
		if res.Ready {
			if err := s.markReady(ctx, res.Group); err != nil {
				return "", err
			}
			return s.catalog.Render(responses.GroupReady, map[string]string{"area": res.Group.Area}), nil
		}
		return s.catalog.Render(responses.GroupJoined, map[string]string{
			"area":     res.Group.Area,
			"count":    strconv.Itoa(len(res.Group.Members)),
			"capacity": strconv.Itoa(res.Group.Capacity),
		}), nil
	}
	if errors.Is(err, bot.ErrCapacity) {
		// The group filled between read and join. Retry the search shortly;
		// the user just hears we are still looking.
		s.logger.Info("join lost capacity race, retrying",
			zap.String("number", number), zap.String("area", profile.Area))
		s.scheduleRepoll(ctx, number)
		return s.catalog.Render(responses.GroupSearching, map[string]string{"area": profile.Area}), nil
	}
	if !errors.Is(err, bot.ErrNotFound) {
		return "", fmt.Errorf("joining group in %s: %w", profile.Area, err)
	}

	if !s.settings.AutoGroupCreation() {
		s.scheduleRepoll(ctx, number)
		return s.catalog.Render(responses.GroupSearching, map[string]string{"area": profile.Area}), nil
	}

	group, err := s.createGroup(ctx, profile, member)
	if err != nil {
		return "", err
	}
	s.scheduleRepoll(ctx, number)
	return s.catalog.Render(responses.GroupJoined, map[string]string{
		"area":     group.Area,
		"count":    "1",
		"capacity": strconv.Itoa(group.Capacity),
	}), nil
}

// Confirm handles a "yes" from a user with a group awaiting confirmation.
// The first confirmation wins the activation; later ones just acknowledge.
// handled is false when the user has nothing pending.
func (s *Service) Confirm(ctx context.Context, number string) (reply string, handled bool, err error) {
	groupID, ok, err := s.kv.Get(ctx, pendingConfirmPrefix+number)
	if err != nil {
		return "", false, fmt.Errorf("loading pending confirmation: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	if err := s.kv.Delete(ctx, pendingConfirmPrefix+number); err != nil {
		s.logger.Warn("clearing pending confirmation", zap.Error(err))
	}

	won, err := s.kv.SetNX(ctx, activatingPrefix+groupID, number, s.settings.JoinDeadline())
	if err != nil {
		return "", false, fmt.Errorf("taking activation lock: %w", err)
	}
	if won {
		task, err := bot.NewTask(bot.TaskActivateCrawl, bot.ActivateCrawlPayload{GroupID: groupID})
		if err != nil {
			return "", false, err
		}
		if err := s.exec.Submit(ctx, task); err != nil {
			return "", false, fmt.Errorf("submitting activation: %w", err)
		}
	}
	return s.catalog.Render(responses.GroupConfirmed, nil), true, nil
}

// RequestAlternative pulls the user out of their forming group and starts a
// fresh search.
func (s *Service) RequestAlternative(ctx context.Context, number string) (string, error) {
	profile, err := s.profiles.GetByNumber(ctx, number)
	if err != nil {
		return "", fmt.Errorf("loading profile %s: %w", number, err)
	}
	if err := s.kv.Delete(ctx, pendingConfirmPrefix+number); err != nil {
		s.logger.Warn("clearing pending confirmation", zap.Error(err))
	}

	left, err := s.groups.Leave(ctx, profile.ID, s.clock.Now())
	if err != nil && !errors.Is(err, bot.ErrNotFound) {
		return "", fmt.Errorf("leaving group: %w", err)
	}
	if err == nil && left.Status == bot.GroupCancelled {
		s.publish(ctx, bot.Event{
			Type: bot.EventGroupCancelled, GroupID: left.ID, Area: left.Area, At: s.clock.Now(),
			Detail: "last member requested another group",
		})
	}

	task, err := bot.NewTask(bot.TaskFindGroup, bot.FindGroupPayload{Number: number})
	if err != nil {
		return "", err
	}
	if err := s.exec.Submit(ctx, task); err != nil {
		return "", fmt.Errorf("submitting group search: %w", err)
	}
	return s.catalog.Render(responses.GroupAlternative, map[string]string{"area": profile.Area}), nil
}

func (s *Service) createGroup(ctx context.Context, profile bot.UserProfile, admin bot.Member) (bot.Group, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return bot.Group{}, fmt.Errorf("generating group id: %w", err)
	}
	now := s.clock.Now()
	group := bot.Group{
		ID:        id,
		Area:      profile.Area,
		GroupType: profile.GroupType,
		Status:    bot.GroupForming,
		Capacity:  s.settings.MaxGroupSize(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.groups.Create(ctx, group, admin)
	if err != nil {
		return bot.Group{}, fmt.Errorf("creating group in %s: %w", profile.Area, err)
	}
	metrics.ObserveGroupTransition(string(bot.GroupForming))
	s.publish(ctx, bot.Event{
		Type: bot.EventGroupFormed, GroupID: created.ID, Area: created.Area, At: now,
	})
	s.logger.Info("group created",
		zap.String("group_id", created.ID),
		zap.String("area", created.Area),
		zap.Int("capacity", created.Capacity))
	return created, nil
}

// markReady records a pending confirmation for every member and tells the
// rest of the group. The requester's own reply comes from the caller.
func (s *Service) markReady(ctx context.Context, group bot.Group) error {
	deadline := s.settings.JoinDeadline()
	ready := s.catalog.Render(responses.GroupReady, map[string]string{"area": group.Area})
	for _, m := range group.Members {
		if err := s.kv.Set(ctx, pendingConfirmPrefix+m.Number, group.ID, deadline); err != nil {
			return fmt.Errorf("marking confirmation for %s: %w", m.Number, err)
		}
	}
	for _, m := range group.Members {
		if m.ProfileID == group.Members[len(group.Members)-1].ProfileID {
			continue // the joiner gets the reply synchronously
		}
		task, err := bot.NewTask(bot.TaskSendMessage, bot.SendMessagePayload{To: m.Number, Text: ready})
		if err != nil {
			return err
		}
		if err := s.exec.Submit(ctx, task); err != nil {
			return fmt.Errorf("notifying member %s: %w", m.Number, err)
		}
	}
	s.logger.Info("group ready", zap.String("group_id", group.ID), zap.String("area", group.Area))
	return nil
}

func (s *Service) statusReply(group bot.Group) string {
	switch {
	case group.Status == bot.GroupActive:
		return s.catalog.Render(responses.GroupConfirmed, nil)
	case group.Full():
		return s.catalog.Render(responses.GroupReady, map[string]string{"area": group.Area})
	default:
		return s.catalog.Render(responses.GroupJoined, map[string]string{
			"area":     group.Area,
			"count":    strconv.Itoa(len(group.Members)),
			"capacity": strconv.Itoa(group.Capacity),
		})
	}
}

func (s *Service) scheduleRepoll(ctx context.Context, number string) {
	task, err := bot.NewTask(bot.TaskFindGroup, bot.FindGroupPayload{Number: number})
	if err != nil {
		s.logger.Warn("building repoll task", zap.Error(err))
		return
	}
	if err := s.exec.SubmitAfter(ctx, task, repollInterval); err != nil {
		s.logger.Warn("scheduling repoll", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, event bot.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
