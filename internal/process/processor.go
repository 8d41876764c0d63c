// Package process routes inbound messages and binds the bot's task handlers
// to the executor.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/dispatch"
	"github.com/barcrawlhq/crawlbot/internal/guard"
	"github.com/barcrawlhq/crawlbot/internal/matching"
	"github.com/barcrawlhq/crawlbot/internal/metrics"
	"github.com/barcrawlhq/crawlbot/internal/progression"
	"github.com/barcrawlhq/crawlbot/internal/responses"
	"github.com/barcrawlhq/crawlbot/internal/settings"
	"github.com/barcrawlhq/crawlbot/internal/signup"
	"github.com/barcrawlhq/crawlbot/internal/tasks"
)

// Processor owns the inbound message pipeline: guard checks, keyword
// routing, the signup dialogue and the hand-off to matching. It also carries
// the handlers for every other task the bot schedules.
type Processor struct {
	guard       *guard.Guard
	signup      *signup.Engine
	matcher     *matching.Service
	progression *progression.Scheduler
	dispatcher  *dispatch.Dispatcher
	settings    *settings.Service
	catalog     *responses.Catalog
	exec        bot.Executor
	logger      *zap.Logger
}

// New constructs a Processor.
func New(
	g *guard.Guard,
	signupEngine *signup.Engine,
	matcher *matching.Service,
	scheduler *progression.Scheduler,
	dispatcher *dispatch.Dispatcher,
	svcSettings *settings.Service,
	catalog *responses.Catalog,
	exec bot.Executor,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		guard:       g,
		signup:      signupEngine,
		matcher:     matcher,
		progression: scheduler,
		dispatcher:  dispatcher,
		settings:    svcSettings,
		catalog:     catalog,
		exec:        exec,
		logger:      logger,
	}
}

// Register binds every task handler to the executor.
func (p *Processor) Register(e *tasks.Executor) {
	e.Register(bot.TaskProcessMessage, p.handleProcessMessage)
	e.Register(bot.TaskSendMessage, p.handleSendMessage)
	e.Register(bot.TaskFindGroup, p.handleFindGroup)
	e.Register(bot.TaskActivateCrawl, p.handleActivateCrawl)
	e.Register(bot.TaskAdvanceCrawl, p.handleAdvanceCrawl)
	e.Register(bot.TaskEndSession, p.handleEndSession)
	e.Register(bot.TaskDailySweep, p.handleDailySweep)
}

// handleProcessMessage is the inbound pipeline: guard first, then the live
// dialogue if any, then keyword routing.
func (p *Processor) handleProcessMessage(ctx context.Context, task bot.Task) error {
	var payload bot.ProcessMessagePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("undecodable message task", zap.Error(err))
		return nil
	}
	msg := payload.Message

	decision := p.guard.Check(ctx, msg, p.settings.GuardLimits())
	metrics.ObserveMessage(string(decision))
	switch decision {
	case guard.Duplicate, guard.Cooldown:
		// Dropped silently; replying would double the noise.
		p.logger.Debug("message dropped",
			zap.String("from", msg.From), zap.String("reason", string(decision)))
		return nil
	case guard.RateLimited:
		return p.reply(ctx, msg.From, p.catalog.Render(responses.RateLimit, nil))
	}

	active, err := p.signup.Active(ctx, msg.From)
	if err != nil {
		return fmt.Errorf("checking dialogue state: %w", err)
	}
	if active {
		return p.advanceSignup(ctx, msg)
	}

	switch {
	case bot.WantsSignup(msg.Text):
		return p.beginSignup(ctx, msg.From)
	case bot.IsConfirmation(msg.Text):
		reply, handled, err := p.matcher.Confirm(ctx, msg.From)
		if err != nil {
			return fmt.Errorf("handling confirmation: %w", err)
		}
		if !handled {
			reply = p.catalog.Render(responses.Welcome, nil)
		}
		return p.reply(ctx, msg.From, reply)
	case bot.WantsAlternative(msg.Text):
		reply, err := p.matcher.RequestAlternative(ctx, msg.From)
		if err != nil {
			if errors.Is(err, bot.ErrNotFound) {
				return p.reply(ctx, msg.From, p.catalog.Render(responses.Welcome, nil))
			}
			return fmt.Errorf("handling alternative request: %w", err)
		}
		return p.reply(ctx, msg.From, reply)
	case bot.WantsHelp(msg.Text):
		return p.reply(ctx, msg.From, p.catalog.Render(responses.Help, nil))
	default:
		return p.reply(ctx, msg.From, p.catalog.Render(responses.Welcome, nil))
	}
}

func (p *Processor) beginSignup(ctx context.Context, number string) error {
	out, err := p.signup.Begin(ctx, number)
	if err != nil {
		return fmt.Errorf("starting signup: %w", err)
	}
	if err := p.reply(ctx, number, out.Reply); err != nil {
		return err
	}
	if out.AlreadyRegistered {
		return p.submitFindGroup(ctx, number)
	}
	return nil
}

func (p *Processor) advanceSignup(ctx context.Context, msg bot.InboundMessage) error {
	out, err := p.signup.Advance(ctx, msg)
	if err != nil {
		return fmt.Errorf("advancing signup: %w", err)
	}
	if err := p.reply(ctx, msg.From, out.Reply); err != nil {
		return err
	}
	if out.Completed || out.AlreadyRegistered {
		return p.submitFindGroup(ctx, msg.From)
	}
	return nil
}

func (p *Processor) handleSendMessage(ctx context.Context, task bot.Task) error {
	var payload bot.SendMessagePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("undecodable send task", zap.Error(err))
		return nil
	}
	return p.dispatcher.Send(ctx, payload.To, payload.Text)
}

func (p *Processor) handleFindGroup(ctx context.Context, task bot.Task) error {
	var payload bot.FindGroupPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("undecodable find task", zap.Error(err))
		return nil
	}
	reply, err := p.matcher.FindGroup(ctx, payload.Number)
	if err != nil {
		if errors.Is(err, bot.ErrNotFound) {
			p.logger.Warn("matching skipped, profile missing",
				zap.String("number", payload.Number))
			return nil
		}
		return err
	}
	return p.reply(ctx, payload.Number, reply)
}

func (p *Processor) handleActivateCrawl(ctx context.Context, task bot.Task) error {
	var payload bot.ActivateCrawlPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("undecodable activate task", zap.Error(err))
		return nil
	}
	if err := p.progression.Activate(ctx, payload.GroupID); err != nil {
		// Too few venues is terminal: retrying would only repeat the
		// apology to the members.
		if errors.Is(err, bot.ErrNotEnoughVenues) {
			return nil
		}
		return err
	}
	return nil
}

func (p *Processor) handleAdvanceCrawl(ctx context.Context, task bot.Task) error {
	var payload bot.AdvanceCrawlPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("undecodable advance task", zap.Error(err))
		return nil
	}
	return p.progression.Advance(ctx, payload.GroupID, payload.Token)
}

func (p *Processor) handleEndSession(ctx context.Context, task bot.Task) error {
	var payload bot.EndSessionPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("undecodable end task", zap.Error(err))
		return nil
	}
	return p.progression.EndSession(ctx, payload.GroupID)
}

func (p *Processor) handleDailySweep(ctx context.Context, _ bot.Task) error {
	return p.progression.DailySweep(ctx)
}

// reply queues an outbound send so delivery shares the dispatcher's pacing
// and the executor's retries.
func (p *Processor) reply(ctx context.Context, to, text string) error {
	if text == "" {
		return nil
	}
	task, err := bot.NewTask(bot.TaskSendMessage, bot.SendMessagePayload{To: to, Text: text})
	if err != nil {
		return err
	}
	if err := p.exec.Submit(ctx, task); err != nil {
		return fmt.Errorf("queueing reply: %w", err)
	}
	return nil
}

func (p *Processor) submitFindGroup(ctx context.Context, number string) error {
	task, err := bot.NewTask(bot.TaskFindGroup, bot.FindGroupPayload{Number: number})
	if err != nil {
		return err
	}
	if err := p.exec.Submit(ctx, task); err != nil {
		return fmt.Errorf("queueing group search: %w", err)
	}
	return nil
}
