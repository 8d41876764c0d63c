// Package memory contains an in-process event publisher for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

// Publisher records published lifecycle events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []bot.Event
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event.
func (p *Publisher) Publish(_ context.Context, event bot.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []bot.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]bot.Event, len(p.events))
	copy(out, p.events)
	return out
}
