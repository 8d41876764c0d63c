// Package tasks provides the asynchronous task executor: a bounded queue,
// a worker pool and a delay scheduler. Every piece of deferred bot work
// (countdowns, re-polls, outbound sends) goes through it.
package tasks

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/metrics"
)

// HandlerFunc processes one task. Returning an error triggers the retry
// policy; at-least-once semantics apply.
type HandlerFunc func(ctx context.Context, task bot.Task) error

// Executor implements bot.Executor with an in-memory queue. Delayed tasks sit
// in a min-heap until due, then join the regular queue.
type Executor struct {
	queue   *queue
	retry   bot.RetryPolicy
	logger  *zap.Logger
	workers int

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	heapMu sync.Mutex
	heap   delayHeap
	wake   chan struct{}

	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New constructs an Executor. Handlers are registered before Start.
func New(workers, queueDepth int, retry bot.RetryPolicy, logger *zap.Logger) *Executor {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Executor{
		queue:    newQueue(queueDepth),
		retry:    retry,
		logger:   logger,
		workers:  workers,
		handlers: make(map[string]HandlerFunc),
		wake:     make(chan struct{}, 1),
	}
}

// Register binds a handler to a task name. Registering after Start is a
// programming error.
func (e *Executor) Register(name string, h HandlerFunc) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[name] = h
}

// Start launches the scheduler and the worker pool.
func (e *Executor) Start(ctx context.Context) {
	if e.started {
		return
	}
	e.started = true
	e.runCtx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.schedulerLoop()

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(i)
	}
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (e *Executor) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.queue.close()
}

// Submit queues the task for immediate execution.
func (e *Executor) Submit(ctx context.Context, task bot.Task) error {
	if err := e.queue.enqueue(ctx, task); err != nil {
		return fmt.Errorf("submit %s: %w", task.Name, err)
	}
	return nil
}

// SubmitAfter queues the task to run after the delay.
func (e *Executor) SubmitAfter(_ context.Context, task bot.Task, delay time.Duration) error {
	if delay <= 0 {
		return e.Submit(context.Background(), task)
	}
	e.heapMu.Lock()
	heap.Push(&e.heap, &delayedTask{task: task, at: time.Now().Add(delay)})
	e.heapMu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// schedulerLoop releases delayed tasks when due.
func (e *Executor) schedulerLoop() {
	defer e.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		e.heapMu.Lock()
		var wait time.Duration = time.Hour
		for e.heap.Len() > 0 {
			next := e.heap[0]
			until := time.Until(next.at)
			if until > 0 {
				wait = until
				break
			}
			heap.Pop(&e.heap)
			e.heapMu.Unlock()
			if err := e.queue.enqueue(e.runCtx, next.task); err != nil {
				e.logger.Warn("releasing delayed task", zap.String("task", next.task.Name), zap.Error(err))
			}
			e.heapMu.Lock()
		}
		e.heapMu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-e.runCtx.Done():
			return
		case <-e.wake:
		case <-timer.C:
		}
	}
}

func (e *Executor) workerLoop(id int) {
	defer e.wg.Done()
	for {
		task, err := e.queue.dequeue(e.runCtx)
		if err != nil {
			return
		}
		e.process(task)
	}
}

// process runs the task through its handler, retrying per the policy and
// abandoning with a log line when retries are exhausted.
func (e *Executor) process(task bot.Task) {
	e.handlersMu.RLock()
	h, ok := e.handlers[task.Name]
	e.handlersMu.RUnlock()
	if !ok {
		e.logger.Error("no handler for task", zap.String("task", task.Name))
		metrics.ObserveTask(task.Name, "unroutable", 0)
		return
	}

	for {
		start := time.Now()
		err := h(e.runCtx, task)
		duration := time.Since(start)
		if err == nil {
			metrics.ObserveTask(task.Name, "ok", duration)
			return
		}
		metrics.ObserveTask(task.Name, "error", duration)

		task.Attempt++
		if !e.retry.ShouldRetry(err, task.Attempt) {
			e.logger.Error("task abandoned",
				zap.String("task", task.Name),
				zap.Int("attempts", task.Attempt),
				zap.Error(err))
			metrics.ObserveTask(task.Name, "abandoned", 0)
			return
		}
		e.logger.Warn("task failed, retrying",
			zap.String("task", task.Name),
			zap.Int("attempt", task.Attempt),
			zap.Error(err))
		select {
		case <-e.runCtx.Done():
			return
		case <-time.After(e.retry.Backoff(task.Attempt)):
		}
	}
}

// delayedTask is a heap entry ordered by due time.
type delayedTask struct {
	task bot.Task
	at   time.Time
}

type delayHeap []*delayedTask

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h delayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)        { *h = append(*h, x.(*delayedTask)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
