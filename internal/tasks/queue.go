package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

// queue is a bounded in-memory task queue with context-aware operations.
type queue struct {
	ch      chan bot.Task
	closeMu sync.Mutex
	closed  bool
}

func newQueue(capacity int) *queue {
	return &queue{ch: make(chan bot.Task, capacity)}
}

// enqueue pushes a task or returns when the context ends.
func (q *queue) enqueue(ctx context.Context, task bot.Task) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// dequeue pops the next task, respecting context cancellation.
func (q *queue) dequeue(ctx context.Context) (bot.Task, error) {
	select {
	case <-ctx.Done():
		return bot.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return bot.Task{}, errors.New("queue closed")
		}
		return task, nil
	}
}

func (q *queue) close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
