// Package dispatch delivers outbound messages: rate-paced, primary channel
// first with automatic fallback.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/metrics"
)

// Dispatcher sends messages through the primary sender, falling back to the
// secondary when the primary fails. A global rate limiter paces deliveries
// so provider quotas are respected.
type Dispatcher struct {
	primary  bot.Sender
	fallback bot.Sender // may be nil
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// New constructs a Dispatcher. ratePerSecond <= 0 disables pacing.
func New(primary, fallback bot.Sender, ratePerSecond float64, burst int, logger *zap.Logger) *Dispatcher {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{
		primary:  primary,
		fallback: fallback,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}
}

// Send delivers one message. The error reflects the last channel tried; the
// caller's retry policy decides what happens next.
func (d *Dispatcher) Send(ctx context.Context, to, text string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	err := d.primary.Send(ctx, to, text)
	metrics.ObserveSend(d.primary.Name(), err)
	if err == nil {
		return nil
	}
	if d.fallback == nil {
		return fmt.Errorf("sending via %s: %w", d.primary.Name(), err)
	}

	d.logger.Warn("primary channel failed, trying fallback",
		zap.String("primary", d.primary.Name()),
		zap.String("fallback", d.fallback.Name()),
		zap.Error(err))

	fbErr := d.fallback.Send(ctx, to, text)
	metrics.ObserveSend(d.fallback.Name(), fbErr)
	if fbErr != nil {
		return fmt.Errorf("sending via %s after %s failed: %w", d.fallback.Name(), d.primary.Name(), fbErr)
	}
	return nil
}
