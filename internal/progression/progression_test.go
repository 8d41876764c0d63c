package progression

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/config"
	"github.com/barcrawlhq/crawlbot/internal/id/uuid"
	pubmem "github.com/barcrawlhq/crawlbot/internal/publisher/memory"
	"github.com/barcrawlhq/crawlbot/internal/responses"
	"github.com/barcrawlhq/crawlbot/internal/settings"
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

func (c *fakeClock) SetHour(h int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(c.now.Year(), c.now.Month(), c.now.Day(), h, 0, 0, 0, c.now.Location())
}

type captureExec struct {
	mu        sync.Mutex
	immediate []bot.Task
	delayed   []bot.Task
}

func (e *captureExec) Submit(_ context.Context, task bot.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.immediate = append(e.immediate, task)
	return nil
}

func (e *captureExec) SubmitAfter(_ context.Context, task bot.Task, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delayed = append(e.delayed, task)
	return nil
}

func (e *captureExec) named(name string) []bot.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []bot.Task
	for _, t := range append(append([]bot.Task{}, e.immediate...), e.delayed...) {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

type fixture struct {
	sched  *Scheduler
	groups *memory.GroupStore
	venues *memory.VenueStore
	exec   *captureExec
	pub    *pubmem.Publisher
	clock  *fakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 6, 5, 19, 0, 0, 0, time.UTC)}
	groups := memory.NewGroupStore()
	venues := memory.NewVenueStore()
	exec := &captureExec{}
	pub := pubmem.New()
	svc := settings.New(config.Bot{
		MinGroupSize:       3,
		MaxGroupSize:       3,
		BarProgressionTime: 3600,
		AutoProgression:    true,
	}, nil)
	sched := New(groups, venues, svc, responses.NewCatalog(nil), clock, uuid.New(), exec, pub, zap.NewNop())
	return fixture{sched: sched, groups: groups, venues: venues, exec: exec, pub: pub, clock: clock}
}

func seedGroup(t *testing.T, f fixture, id string, members int) {
	t.Helper()
	ctx := context.Background()
	_, err := f.groups.Create(ctx, bot.Group{
		ID: id, Area: "ancoats", GroupType: "mixed",
		Status: bot.GroupForming, Capacity: members,
	}, bot.Member{ProfileID: id + "-p1", Number: id + "-n1"})
	require.NoError(t, err)
	for i := 2; i <= members; i++ {
		_, err := f.groups.JoinFirstFit(ctx, "ancoats", "mixed", bot.Member{
			ProfileID: fmt.Sprintf("%s-p%d", id, i),
			Number:    fmt.Sprintf("%s-n%d", id, i),
		})
		require.NoError(t, err)
	}
}

func seedVenues(t *testing.T, f fixture, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.venues.Create(context.Background(), bot.Venue{
			ID: fmt.Sprintf("v%d", i), Name: fmt.Sprintf("Bar %d", i),
			Area: "ancoats", Active: true,
		})
		require.NoError(t, err)
	}
}

func TestActivateRequiresThreeVenues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedGroup(t, f, "g1", 3)
	seedVenues(t, f, 2)

	err := f.sched.Activate(ctx, "g1")
	require.ErrorIs(t, err, bot.ErrNotEnoughVenues)

	g, err := f.groups.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, bot.GroupForming, g.Status)

	// Members were told, no advance was scheduled.
	assert.Len(t, f.exec.named(bot.TaskSendMessage), 3)
	assert.Empty(t, f.exec.named(bot.TaskAdvanceCrawl))
}

func TestActivateStartsCrawl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedGroup(t, f, "g1", 3)
	seedVenues(t, f, 7)

	require.NoError(t, f.sched.Activate(ctx, "g1"))

	g, err := f.groups.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, bot.GroupActive, g.Status)
	assert.Len(t, g.Stops, 5) // capped at five bars
	assert.Equal(t, 0, g.CurrentStop)
	assert.NotEmpty(t, g.AdvanceToken)

	// First stop announcement plus rules, to every member.
	assert.Len(t, f.exec.named(bot.TaskSendMessage), 6)
	assert.Len(t, f.exec.named(bot.TaskAdvanceCrawl), 1)

	events := f.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, bot.EventGroupActivated, events[0].Type)

	// Re-activation is a no-op.
	require.NoError(t, f.sched.Activate(ctx, "g1"))
	assert.Len(t, f.exec.named(bot.TaskAdvanceCrawl), 1)
}

func activeGroup(t *testing.T, f fixture) bot.Group {
	t.Helper()
	seedGroup(t, f, "g1", 3)
	seedVenues(t, f, 4)
	require.NoError(t, f.sched.Activate(context.Background(), "g1"))
	g, err := f.groups.Get(context.Background(), "g1")
	require.NoError(t, err)
	return g
}

func TestAdvanceMovesToNextBarAndReschedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := activeGroup(t, f)

	require.NoError(t, f.sched.Advance(ctx, g.ID, g.AdvanceToken))

	moved, err := f.groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, moved.CurrentStop)
	assert.NotEqual(t, g.AdvanceToken, moved.AdvanceToken)

	events := f.pub.Events()
	advanced := events[len(events)-1]
	assert.Equal(t, bot.EventGroupAdvanced, advanced.Type)
	assert.Equal(t, moved.Stops[moved.CurrentStop].Venue.Name, advanced.Detail)

	// One advance from activation, one rescheduled here.
	assert.Len(t, f.exec.named(bot.TaskAdvanceCrawl), 2)
	tasks := f.exec.named(bot.TaskAdvanceCrawl)
	var payload bot.AdvanceCrawlPayload
	require.NoError(t, json.Unmarshal(tasks[1].Payload, &payload))
	assert.Equal(t, moved.AdvanceToken, payload.Token)
}

func TestAdvanceStaleTokenIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := activeGroup(t, f)

	require.NoError(t, f.sched.Advance(ctx, g.ID, "superseded-token"))

	unchanged, err := f.groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unchanged.CurrentStop)
	assert.Len(t, f.exec.named(bot.TaskAdvanceCrawl), 1)
}

func TestAdvanceAfterLastCallSchedulesEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := activeGroup(t, f)

	f.clock.SetHour(23)
	require.NoError(t, f.sched.Advance(ctx, g.ID, g.AdvanceToken))

	// The group moved once more but no further advance was scheduled.
	moved, err := f.groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, moved.CurrentStop)
	assert.Len(t, f.exec.named(bot.TaskAdvanceCrawl), 1)
	assert.Len(t, f.exec.named(bot.TaskEndSession), 1)
}

func TestAdvanceThroughFinalStopEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := activeGroup(t, f)

	// Walk through all four bars.
	for i := 0; i < 3; i++ {
		current, err := f.groups.Get(ctx, g.ID)
		require.NoError(t, err)
		require.NoError(t, f.sched.Advance(ctx, g.ID, current.AdvanceToken))
	}
	current, err := f.groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, current.CurrentStop)
	assert.Equal(t, bot.GroupActive, current.Status)

	// The advance past the final bar completes the session.
	require.NoError(t, f.sched.Advance(ctx, g.ID, current.AdvanceToken))
	done, err := f.groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, bot.GroupCompleted, done.Status)
}

func TestDailySweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := activeGroup(t, f)
	sendsBefore := len(f.exec.named(bot.TaskSendMessage))

	require.NoError(t, f.sched.DailySweep(ctx))
	swept, err := f.groups.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, bot.GroupCompleted, swept.Status)
	assert.Len(t, f.exec.named(bot.TaskSendMessage), sendsBefore+3)

	// A second sweep finds nothing and sends nothing.
	require.NoError(t, f.sched.DailySweep(ctx))
	assert.Len(t, f.exec.named(bot.TaskSendMessage), sendsBefore+3)
}
