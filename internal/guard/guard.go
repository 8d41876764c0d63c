// Package guard filters inbound messages before processing: duplicate
// suppression, per-user cooldown and a sliding rate-limit window.
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

// Decision is the outcome of a guard check.
type Decision string

const (
	Allow       Decision = "allow"
	Duplicate   Decision = "duplicate"
	Cooldown    Decision = "cooldown"
	RateLimited Decision = "rate_limited"
)

// Limits carries the active guard windows. They come from runtime settings
// so operators can tune them without a restart.
type Limits struct {
	MessageCooldown time.Duration // dedupe fingerprint TTL
	UserCooldown    time.Duration // minimum gap between messages per user
	RateWindow      time.Duration // counter window
	RateMax         int64         // max messages per window
}

// Guard checks messages against a TTL key-value store. Store failures are
// logged and the message is allowed through: losing a duplicate check is
// better than dropping real traffic.
type Guard struct {
	kv     bot.KV
	hasher bot.Hasher
	logger *zap.Logger
}

// New constructs a Guard.
func New(kv bot.KV, hasher bot.Hasher, logger *zap.Logger) *Guard {
	return &Guard{kv: kv, hasher: hasher, logger: logger}
}

// Check runs the three filters in order: dedupe, user cooldown, rate limit.
// The first filter that trips decides the outcome. The dedupe record and
// cooldown marker are written only after both lookups pass, so a denied
// message leaves no trace and its later retry is judged fresh.
func (g *Guard) Check(ctx context.Context, msg bot.InboundMessage, limits Limits) Decision {
	fp, err := g.Fingerprint(msg)
	if err != nil {
		g.logger.Warn("fingerprint failed, allowing message", zap.Error(err))
		return g.checkRate(ctx, msg.From, limits.RateWindow, limits.RateMax)
	}
	dedupeKey := "msg_dedupe:" + fp
	cooldownKey := "user_cooldown:" + msg.From

	if g.exists(ctx, dedupeKey) {
		return Duplicate
	}
	if g.exists(ctx, cooldownKey) {
		return Cooldown
	}

	if err := g.kv.Set(ctx, dedupeKey, "1", limits.MessageCooldown); err != nil {
		g.logger.Warn("writing dedupe record failed", zap.Error(err))
	}
	if err := g.kv.Set(ctx, cooldownKey, "1", limits.UserCooldown); err != nil {
		g.logger.Warn("writing cooldown marker failed", zap.Error(err))
	}

	return g.checkRate(ctx, msg.From, limits.RateWindow, limits.RateMax)
}

// exists looks up a guard key. Store failures read as absent so the guard fails
// open.
func (g *Guard) exists(ctx context.Context, key string) bool {
	_, ok, err := g.kv.Get(ctx, key)
	if err != nil {
		g.logger.Warn("guard lookup failed, allowing message",
			zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// Fingerprint identifies a message by sender, type and normalized text, so
// retried webhook deliveries with fresh message ids still collapse.
func (g *Guard) Fingerprint(msg bot.InboundMessage) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(msg.Text))
	return g.hasher.Hash([]byte(fmt.Sprintf("%s:%s:%s", msg.From, msg.Type, normalized)))
}

func (g *Guard) checkRate(ctx context.Context, from string, window time.Duration, max int64) Decision {
	count, err := g.kv.Incr(ctx, "msg_count:"+from, window)
	if err != nil {
		g.logger.Warn("rate check failed, allowing message", zap.Error(err))
		return Allow
	}
	if count > max {
		return RateLimited
	}
	return Allow
}
