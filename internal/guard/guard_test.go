package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/hash/sha256"
	"github.com/barcrawlhq/crawlbot/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func defaultLimits() Limits {
	return Limits{
		MessageCooldown: 30 * time.Second,
		UserCooldown:    10 * time.Second,
		RateWindow:      5 * time.Minute,
		RateMax:         5,
	}
}

func newGuard(clock bot.Clock) *Guard {
	return New(memory.NewKV(clock), sha256.New(), zap.NewNop())
}

func msg(from, text string) bot.InboundMessage {
	return bot.InboundMessage{From: from, Text: text, Type: bot.MessageTypeText}
}

func TestGuardDuplicateSuppression(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newGuard(clock)
	ctx := context.Background()

	assert.Equal(t, Allow, g.Check(ctx, msg("447700900001", "beer crawl"), defaultLimits()))

	// Same sender and text inside the window, even with surrounding
	// whitespace and different casing, is a duplicate.
	assert.Equal(t, Duplicate, g.Check(ctx, msg("447700900001", "  Beer Crawl  "), defaultLimits()))

	clock.Advance(31 * time.Second)
	assert.Equal(t, Allow, g.Check(ctx, msg("447700900001", "beer crawl"), defaultLimits()))
}

func TestGuardUserCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newGuard(clock)
	ctx := context.Background()

	assert.Equal(t, Allow, g.Check(ctx, msg("447700900001", "hello"), defaultLimits()))
	assert.Equal(t, Cooldown, g.Check(ctx, msg("447700900001", "different text"), defaultLimits()))

	// Another sender is not affected.
	assert.Equal(t, Allow, g.Check(ctx, msg("447700900002", "hello"), defaultLimits()))

	clock.Advance(11 * time.Second)
	assert.Equal(t, Allow, g.Check(ctx, msg("447700900001", "yet another"), defaultLimits()))
}

func TestGuardCooldownDenialLeavesNoDedupeRecord(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newGuard(clock)
	ctx := context.Background()

	assert.Equal(t, Allow, g.Check(ctx, msg("447700900001", "hello"), defaultLimits()))

	// Denied for cooldown; the message must not leave a dedupe record
	// behind.
	clock.Advance(5 * time.Second)
	assert.Equal(t, Cooldown, g.Check(ctx, msg("447700900001", "find a group"), defaultLimits()))

	// Retry after the cooldown expires, still inside what would have been
	// the 30s dedupe window had the denied attempt written one.
	clock.Advance(7 * time.Second)
	assert.Equal(t, Allow, g.Check(ctx, msg("447700900001", "find a group"), defaultLimits()))
}

func TestGuardRateLimitWindow(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newGuard(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := g.Check(ctx, msg("447700900001", fmt.Sprintf("message %d", i)), defaultLimits())
		require.Equal(t, Allow, d, "message %d", i)
		clock.Advance(11 * time.Second)
	}
	assert.Equal(t, RateLimited, g.Check(ctx, msg("447700900001", "one too many"), defaultLimits()))

	// The counter is anchored at the first message, so once the window
	// elapses the sender starts fresh.
	clock.Advance(5 * time.Minute)
	assert.Equal(t, Allow, g.Check(ctx, msg("447700900001", "fresh window"), defaultLimits()))
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("kv down")
}
func (failingKV) Set(context.Context, string, string, time.Duration) error {
	return errors.New("kv down")
}
func (failingKV) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("kv down")
}
func (failingKV) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("kv down")
}
func (failingKV) Delete(context.Context, string) error { return errors.New("kv down") }

func TestGuardFailsOpen(t *testing.T) {
	g := New(failingKV{}, sha256.New(), zap.NewNop())
	assert.Equal(t, Allow, g.Check(context.Background(), msg("447700900001", "hello"), defaultLimits()))
}
