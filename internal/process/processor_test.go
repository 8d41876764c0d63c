package process

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/config"
	"github.com/barcrawlhq/crawlbot/internal/dispatch"
	"github.com/barcrawlhq/crawlbot/internal/guard"
	"github.com/barcrawlhq/crawlbot/internal/hash/sha256"
	"github.com/barcrawlhq/crawlbot/internal/id/uuid"
	"github.com/barcrawlhq/crawlbot/internal/matching"
	"github.com/barcrawlhq/crawlbot/internal/progression"
	pubmem "github.com/barcrawlhq/crawlbot/internal/publisher/memory"
	"github.com/barcrawlhq/crawlbot/internal/responses"
	"github.com/barcrawlhq/crawlbot/internal/settings"
	"github.com/barcrawlhq/crawlbot/internal/signup"
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

type captureExec struct {
	mu    sync.Mutex
	tasks []bot.Task
}

func (e *captureExec) Submit(_ context.Context, task bot.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	return nil
}

func (e *captureExec) SubmitAfter(_ context.Context, task bot.Task, _ time.Duration) error {
	return e.Submit(context.Background(), task)
}

func (e *captureExec) named(name string) []bot.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []bot.Task
	for _, t := range e.tasks {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

func (e *captureExec) sentTexts(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, task := range e.named(bot.TaskSendMessage) {
		var p bot.SendMessagePayload
		require.NoError(t, json.Unmarshal(task.Payload, &p))
		out = append(out, p.Text)
	}
	return out
}

type noopSender struct{}

func (noopSender) Send(context.Context, string, string) error { return nil }
func (noopSender) Name() string                               { return "noop" }

type fixture struct {
	proc  *Processor
	exec  *captureExec
	clock *fakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := zap.NewNop()
	clock := &fakeClock{now: time.Date(2026, 6, 5, 19, 0, 0, 0, time.UTC)}
	kv := memory.NewKV(clock)
	profiles := memory.NewProfileStore()
	groups := memory.NewGroupStore()
	venues := memory.NewVenueStore()
	exec := &captureExec{}
	catalog := responses.NewCatalog(nil)
	svc := settings.New(config.Bot{
		MinGroupSize: 3, MaxGroupSize: 3,
		MessageCooldown: 30, UserCooldown: 10,
		RateLimitWindow: 300, RateLimitMax: 5,
		BarProgressionTime: 3600, JoinDeadline: 1800,
		AutoGroupCreation: true, AutoProgression: true,
	}, nil)
	ids := uuid.New()
	pub := pubmem.New()

	g := guard.New(kv, sha256.New(), logger)
	signupEngine := signup.New(kv, profiles, catalog, clock, ids, logger)
	matcher := matching.New(groups, profiles, kv, svc, catalog, clock, ids, exec, pub, logger)
	sched := progression.New(groups, venues, svc, catalog, clock, ids, exec, pub, logger)
	d := dispatch.New(noopSender{}, nil, 0, 0, logger)

	proc := New(g, signupEngine, matcher, sched, d, svc, catalog, exec, logger)
	return fixture{proc: proc, exec: exec, clock: clock}
}

func inbound(t *testing.T, from, text string) bot.Task {
	t.Helper()
	task, err := bot.NewTask(bot.TaskProcessMessage, bot.ProcessMessagePayload{
		Message: bot.InboundMessage{From: from, Text: text, Type: bot.MessageTypeText},
	})
	require.NoError(t, err)
	return task
}

func send(t *testing.T, f fixture, from, text string) {
	t.Helper()
	require.NoError(t, f.proc.handleProcessMessage(context.Background(), inbound(t, from, text)))
	f.clock.Advance(11 * time.Second)
}

func TestKeywordStartsSignup(t *testing.T) {
	f := newFixture(t)
	send(t, f, "447700900001", "beer crawl please")

	texts := f.exec.sentTexts(t)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "area")
}

func TestUnknownTextGetsWelcome(t *testing.T) {
	f := newFixture(t)
	send(t, f, "447700900001", "what is this")

	texts := f.exec.sentTexts(t)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Welcome")
}

func TestHelpKeyword(t *testing.T) {
	f := newFixture(t)
	send(t, f, "447700900001", "help")

	texts := f.exec.sentTexts(t)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "what I can do")
}

func TestDuplicateMessageIsDropped(t *testing.T) {
	f := newFixture(t)
	const from = "447700900001"
	send(t, f, from, "hello there")
	// Same fingerprint inside the dedupe window: dropped without a reply.
	require.NoError(t, f.proc.handleProcessMessage(context.Background(), inbound(t, from, "hello there")))

	assert.Len(t, f.exec.sentTexts(t), 1)
}

func TestFullSignupHandsOffToMatching(t *testing.T) {
	f := newFixture(t)
	const from = "447700900001"

	send(t, f, from, "beer crawl")
	send(t, f, from, "ancoats")
	send(t, f, from, "mixed")
	send(t, f, from, "female")
	send(t, f, from, "26-35")

	// One reply per message, plus a queued group search.
	assert.Len(t, f.exec.sentTexts(t), 5)
	assert.Len(t, f.exec.named(bot.TaskFindGroup), 1)
}

func TestConfirmationWithoutPendingFallsThrough(t *testing.T) {
	f := newFixture(t)
	send(t, f, "447700900001", "yes")

	texts := f.exec.sentTexts(t)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Welcome")
}
