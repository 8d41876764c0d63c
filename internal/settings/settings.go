// Package settings exposes the bot's tunable knobs. Values persisted in the
// settings store override the configured defaults and can change at runtime.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/config"
	"github.com/barcrawlhq/crawlbot/internal/guard"
)

// Known setting keys.
const (
	KeyMinGroupSize       = "min_group_size"
	KeyMaxGroupSize       = "max_group_size"
	KeyMessageCooldown    = "message_cooldown"
	KeyUserCooldown       = "user_cooldown"
	KeyRateLimitWindow    = "rate_limit_window"
	KeyRateLimitMax       = "rate_limit_max"
	KeyBarProgressionTime = "bar_progression_time"
	KeyWaitBetweenBars    = "wait_between_bars"
	KeyJoinDeadline       = "join_deadline"
	KeyAutoGroupCreation  = "auto_group_creation"
	KeySmartMatching      = "smart_matching"
	KeyAutoProgression    = "auto_progression"
	KeyDebugMode          = "debug_mode"
)

// Service resolves settings with store overrides layered over configured
// defaults. Reload refreshes the override cache; getters never touch the
// store directly so they are cheap to call per message.
type Service struct {
	defaults config.Bot
	store    bot.SettingsStore

	mu        sync.RWMutex
	overrides map[string]string
}

// New constructs a Service. A nil store means defaults only.
func New(defaults config.Bot, store bot.SettingsStore) *Service {
	return &Service{defaults: defaults, store: store, overrides: map[string]string{}}
}

// Reload pulls the current overrides from the store.
func (s *Service) Reload(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	values, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	s.mu.Lock()
	s.overrides = values
	s.mu.Unlock()
	return nil
}

// Set persists a single setting and refreshes the cache.
func (s *Service) Set(ctx context.Context, key, value string) error {
	if s.store != nil {
		if err := s.store.Save(ctx, map[string]string{key: value}); err != nil {
			return fmt.Errorf("saving setting %s: %w", key, err)
		}
	}
	s.mu.Lock()
	s.overrides[key] = value
	s.mu.Unlock()
	return nil
}

// Snapshot returns the effective settings: defaults with overrides applied.
func (s *Service) Snapshot() map[string]string {
	out := map[string]string{
		KeyMinGroupSize:       strconv.Itoa(s.defaults.MinGroupSize),
		KeyMaxGroupSize:       strconv.Itoa(s.defaults.MaxGroupSize),
		KeyMessageCooldown:    strconv.Itoa(s.defaults.MessageCooldown),
		KeyUserCooldown:       strconv.Itoa(s.defaults.UserCooldown),
		KeyRateLimitWindow:    strconv.Itoa(s.defaults.RateLimitWindow),
		KeyRateLimitMax:       strconv.Itoa(s.defaults.RateLimitMax),
		KeyBarProgressionTime: strconv.Itoa(s.defaults.BarProgressionTime),
		KeyWaitBetweenBars:    strconv.Itoa(s.defaults.WaitBetweenBars),
		KeyJoinDeadline:       strconv.Itoa(s.defaults.JoinDeadline),
		KeyAutoGroupCreation:  strconv.FormatBool(s.defaults.AutoGroupCreation),
		KeySmartMatching:      strconv.FormatBool(s.defaults.SmartMatching),
		KeyAutoProgression:    strconv.FormatBool(s.defaults.AutoProgression),
		KeyDebugMode:          strconv.FormatBool(s.defaults.DebugMode),
	}
	s.mu.RLock()
	for k, v := range s.overrides {
		out[k] = v
	}
	s.mu.RUnlock()
	return out
}

func (s *Service) intValue(key string, def int) int {
	s.mu.RLock()
	raw, ok := s.overrides[key]
	s.mu.RUnlock()
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func (s *Service) boolValue(key string, def bool) bool {
	s.mu.RLock()
	raw, ok := s.overrides[key]
	s.mu.RUnlock()
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func (s *Service) seconds(key string, def int) time.Duration {
	return time.Duration(s.intValue(key, def)) * time.Second
}

func (s *Service) MinGroupSize() int { return s.intValue(KeyMinGroupSize, s.defaults.MinGroupSize) }
func (s *Service) MaxGroupSize() int { return s.intValue(KeyMaxGroupSize, s.defaults.MaxGroupSize) }

func (s *Service) BarProgressionTime() time.Duration {
	return s.seconds(KeyBarProgressionTime, s.defaults.BarProgressionTime)
}

func (s *Service) WaitBetweenBars() time.Duration {
	return s.seconds(KeyWaitBetweenBars, s.defaults.WaitBetweenBars)
}

func (s *Service) JoinDeadline() time.Duration {
	return s.seconds(KeyJoinDeadline, s.defaults.JoinDeadline)
}

func (s *Service) AutoGroupCreation() bool {
	return s.boolValue(KeyAutoGroupCreation, s.defaults.AutoGroupCreation)
}

func (s *Service) SmartMatching() bool {
	return s.boolValue(KeySmartMatching, s.defaults.SmartMatching)
}

func (s *Service) AutoProgression() bool {
	return s.boolValue(KeyAutoProgression, s.defaults.AutoProgression)
}

func (s *Service) DebugMode() bool { return s.boolValue(KeyDebugMode, s.defaults.DebugMode) }

// GuardLimits assembles the inbound guard windows from the active settings.
func (s *Service) GuardLimits() guard.Limits {
	return guard.Limits{
		MessageCooldown: s.seconds(KeyMessageCooldown, s.defaults.MessageCooldown),
		UserCooldown:    s.seconds(KeyUserCooldown, s.defaults.UserCooldown),
		RateWindow:      s.seconds(KeyRateLimitWindow, s.defaults.RateLimitWindow),
		RateMax:         int64(s.intValue(KeyRateLimitMax, s.defaults.RateLimitMax)),
	}
}
