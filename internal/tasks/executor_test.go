package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

type testPolicy struct {
	max int
}

func (p testPolicy) ShouldRetry(err error, attempt int) bool {
	return err != nil && attempt < p.max
}

func (p testPolicy) Backoff(int) time.Duration { return time.Millisecond }

type recorder struct {
	mu    sync.Mutex
	tasks []bot.Task
}

func (r *recorder) handle(_ context.Context, task bot.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestExecutorRunsSubmittedTasks(t *testing.T) {
	rec := &recorder{}
	e := New(2, 16, testPolicy{max: 3}, zap.NewNop())
	e.Register("test.task", rec.handle)
	e.Start(context.Background())
	defer e.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Submit(context.Background(), bot.Task{Name: "test.task"}))
	}

	require.Eventually(t, func() bool { return rec.count() == 5 },
		2*time.Second, 10*time.Millisecond)
}

func TestExecutorRunsDelayedTasksWhenDue(t *testing.T) {
	rec := &recorder{}
	e := New(1, 16, testPolicy{max: 3}, zap.NewNop())
	e.Register("test.delayed", rec.handle)
	e.Start(context.Background())
	defer e.Close()

	require.NoError(t, e.SubmitAfter(context.Background(), bot.Task{Name: "test.delayed"}, 50*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.count(), "task ran before its delay elapsed")

	require.Eventually(t, func() bool { return rec.count() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestExecutorRetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	e := New(1, 16, testPolicy{max: 3}, zap.NewNop())
	e.Register("test.flaky", func(context.Context, bot.Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	e.Start(context.Background())
	defer e.Close()

	require.NoError(t, e.Submit(context.Background(), bot.Task{Name: "test.flaky"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecutorAbandonsAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	e := New(1, 16, testPolicy{max: 3}, zap.NewNop())
	e.Register("test.broken", func(context.Context, bot.Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("permanent")
	})
	e.Start(context.Background())
	defer e.Close()

	require.NoError(t, e.Submit(context.Background(), bot.Task{Name: "test.broken"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	}, 2*time.Second, 10*time.Millisecond)

	// Give it a moment to prove no fourth attempt happens.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestExecutorUnroutableTaskIsDropped(t *testing.T) {
	rec := &recorder{}
	e := New(1, 16, testPolicy{max: 3}, zap.NewNop())
	e.Register("test.known", rec.handle)
	e.Start(context.Background())
	defer e.Close()

	require.NoError(t, e.Submit(context.Background(), bot.Task{Name: "test.unknown"}))
	require.NoError(t, e.Submit(context.Background(), bot.Task{Name: "test.known"}))

	// The unknown task does not wedge the worker.
	require.Eventually(t, func() bool { return rec.count() == 1 },
		2*time.Second, 10*time.Millisecond)
}
