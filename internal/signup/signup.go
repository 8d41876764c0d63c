// Package signup runs the conversational signup dialogue. Each user has at
// most one conversation state with an absolute lifetime; the engine walks it
// through the question stages and registers a profile at the end.
package signup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/responses"
)

const stateKeyPrefix = "signup_state:"

// Outcome is the result of feeding one message into the dialogue.
type Outcome struct {
	Reply string

	// Completed is set when registration just finished; Profile carries
	// the new profile and the caller hands the user to matching.
	Completed bool
	Profile   bot.UserProfile

	// AlreadyRegistered is set when the user turns out to have a profile
	// already. The caller hands them straight to matching.
	AlreadyRegistered bool

	// Expired is set when the conversation ran past its lifetime and was
	// discarded.
	Expired bool
}

// Engine drives the signup dialogue. Conversation state lives in the TTL
// key-value store so it expires even if the user walks away.
type Engine struct {
	kv       bot.KV
	profiles bot.ProfileStore
	catalog  *responses.Catalog
	clock    bot.Clock
	ids      bot.IDGenerator
	logger   *zap.Logger
}

// New constructs an Engine.
func New(kv bot.KV, profiles bot.ProfileStore, catalog *responses.Catalog, clock bot.Clock, ids bot.IDGenerator, logger *zap.Logger) *Engine {
	return &Engine{kv: kv, profiles: profiles, catalog: catalog, clock: clock, ids: ids, logger: logger}
}

// Active reports whether the user has a live conversation.
func (e *Engine) Active(ctx context.Context, number string) (bool, error) {
	state, err := e.loadState(ctx, number)
	if err != nil {
		return false, err
	}
	return state != nil, nil
}

// Begin starts the dialogue. Users who already have a profile skip it and
// go straight to matching.
func (e *Engine) Begin(ctx context.Context, number string) (Outcome, error) {
	profile, err := e.profiles.GetByNumber(ctx, number)
	if err == nil {
		return Outcome{
			AlreadyRegistered: true,
			Profile:           profile,
			Reply:             e.catalog.Render(responses.AlreadyRegistered, nil),
		}, nil
	}
	if !errors.Is(err, bot.ErrNotFound) {
		return Outcome{}, fmt.Errorf("checking profile %s: %w", number, err)
	}

	now := e.clock.Now()
	state := bot.ConversationState{
		SenderID:  number,
		Stage:     bot.StageCollectingArea,
		Fields:    map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.saveState(ctx, state); err != nil {
		return Outcome{}, err
	}
	return Outcome{Reply: e.catalog.Render(responses.SignupStart, map[string]string{
		"options": bot.FormatOptions("", bot.Areas),
	})}, nil
}

// Advance feeds the user's answer into the dialogue. The caller only calls
// this when Active reported a live conversation.
func (e *Engine) Advance(ctx context.Context, msg bot.InboundMessage) (Outcome, error) {
	state, err := e.loadState(ctx, msg.From)
	if err != nil {
		return Outcome{}, err
	}
	if state == nil || state.Expired(e.clock.Now()) {
		if state != nil {
			if err := e.kv.Delete(ctx, stateKeyPrefix+msg.From); err != nil {
				e.logger.Warn("deleting expired signup state", zap.Error(err))
			}
		}
		return Outcome{Expired: true, Reply: e.catalog.Render(responses.SignupTimeout, nil)}, nil
	}

	switch state.Stage {
	case bot.StageCollectingArea:
		return e.collect(ctx, state, msg.Text, collectStep{
			extract:    bot.ExtractArea,
			field:      bot.FieldArea,
			next:       bot.StageCollectingGroupType,
			invalidKey: responses.SignupAreaInvalid,
			invalidOpt: bot.Areas,
			promptKey:  responses.SignupGroupType,
			promptOpt:  bot.GroupTypes,
		})
	case bot.StageCollectingGroupType:
		return e.collect(ctx, state, msg.Text, collectStep{
			extract:    bot.ExtractGroupType,
			field:      bot.FieldGroupType,
			next:       bot.StageCollectingGender,
			invalidKey: responses.SignupTypeInvalid,
			invalidOpt: bot.GroupTypes,
			promptKey:  responses.SignupGender,
			promptOpt:  bot.Genders,
		})
	case bot.StageCollectingGender:
		return e.collect(ctx, state, msg.Text, collectStep{
			extract:    bot.ExtractGender,
			field:      bot.FieldGender,
			next:       bot.StageCollectingAge,
			invalidKey: responses.SignupGenderBad,
			invalidOpt: bot.Genders,
			promptKey:  responses.SignupAge,
			promptOpt:  bot.AgeRanges,
		})
	case bot.StageCollectingAge:
		return e.finish(ctx, state, msg.Text)
	default:
		return Outcome{}, fmt.Errorf("conversation for %s in unexpected stage %s", msg.From, state.Stage)
	}
}

type collectStep struct {
	extract    func(string) (string, bool)
	field      string
	next       bot.Stage
	invalidKey string
	invalidOpt []string
	promptKey  string
	promptOpt  []string
}

// collect validates one answer. Invalid input re-prompts without touching
// the stage or the deadline.
func (e *Engine) collect(ctx context.Context, state *bot.ConversationState, text string, step collectStep) (Outcome, error) {
	value, ok := step.extract(text)
	if !ok {
		return Outcome{Reply: e.catalog.Render(step.invalidKey, map[string]string{
			"options": bot.FormatOptions("", step.invalidOpt),
		})}, nil
	}

	state.Fields[step.field] = value
	state.Stage = step.next
	state.UpdatedAt = e.clock.Now()
	if err := e.saveState(ctx, *state); err != nil {
		return Outcome{}, err
	}
	return Outcome{Reply: e.catalog.Render(step.promptKey, map[string]string{
		"area":    state.Fields[bot.FieldArea],
		"options": bot.FormatOptions("", step.promptOpt),
	})}, nil
}

// finish validates the last answer and registers the profile.
func (e *Engine) finish(ctx context.Context, state *bot.ConversationState, text string) (Outcome, error) {
	ageRange, ok := bot.ExtractAgeRange(text)
	if !ok {
		return Outcome{Reply: e.catalog.Render(responses.SignupAgeInvalid, map[string]string{
			"options": bot.FormatOptions("", bot.AgeRanges),
		})}, nil
	}

	id, err := e.ids.NewID()
	if err != nil {
		return Outcome{}, fmt.Errorf("generating profile id: %w", err)
	}
	now := e.clock.Now()
	profile := bot.UserProfile{
		ID:        id,
		Number:    state.SenderID,
		Area:      state.Fields[bot.FieldArea],
		GroupType: state.Fields[bot.FieldGroupType],
		Gender:    state.Fields[bot.FieldGender],
		AgeRange:  ageRange,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := e.profiles.Create(ctx, profile)
	if err := e.kv.Delete(ctx, stateKeyPrefix+state.SenderID); err != nil {
		e.logger.Warn("deleting finished signup state", zap.Error(err))
	}
	if err != nil {
		if errors.Is(err, bot.ErrConflict) {
			// Registered through another path mid-dialogue. Load
			// the existing profile and move on to matching.
			existing, getErr := e.profiles.GetByNumber(ctx, state.SenderID)
			if getErr != nil {
				return Outcome{}, fmt.Errorf("loading conflicting profile: %w", getErr)
			}
			return Outcome{
				AlreadyRegistered: true,
				Profile:           existing,
				Reply:             e.catalog.Render(responses.AlreadyRegistered, nil),
			}, nil
		}
		return Outcome{}, fmt.Errorf("registering profile %s: %w", state.SenderID, err)
	}

	return Outcome{
		Completed: true,
		Profile:   created,
		Reply: e.catalog.Render(responses.SignupSuccess, map[string]string{
			"area":       created.Area,
			"group_type": created.GroupType,
		}),
	}, nil
}

func (e *Engine) loadState(ctx context.Context, number string) (*bot.ConversationState, error) {
	raw, ok, err := e.kv.Get(ctx, stateKeyPrefix+number)
	if err != nil {
		return nil, fmt.Errorf("loading signup state %s: %w", number, err)
	}
	if !ok {
		return nil, nil
	}
	var state bot.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decoding signup state %s: %w", number, err)
	}
	return &state, nil
}

// saveState writes the state with the remaining absolute lifetime as TTL,
// so answering questions never extends the deadline.
func (e *Engine) saveState(ctx context.Context, state bot.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding signup state %s: %w", state.SenderID, err)
	}
	ttl := state.ExpiresAt().Sub(e.clock.Now())
	if err := e.kv.Set(ctx, stateKeyPrefix+state.SenderID, string(raw), ttl); err != nil {
		return fmt.Errorf("saving signup state %s: %w", state.SenderID, err)
	}
	return nil
}
