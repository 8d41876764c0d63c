package bot

import (
	"encoding/json"
	"fmt"
)

// Task names routed by the executor. Payload shapes follow below.
const (
	TaskProcessMessage = "message.process"
	TaskSendMessage    = "message.send"
	TaskFindGroup      = "group.find"
	TaskActivateCrawl  = "crawl.activate"
	TaskAdvanceCrawl   = "crawl.advance"
	TaskEndSession     = "crawl.end"
	TaskDailySweep     = "crawl.sweep"
)

// Task is one unit of asynchronous work. Payload is JSON so tasks survive a
// swap of the in-memory executor for a durable broker.
type Task struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Attempt int             `json:"attempt"`
}

// NewTask marshals the payload into a Task.
func NewTask(name string, payload any) (Task, error) {
	if payload == nil {
		return Task{Name: name}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Task{Name: name, Payload: raw}, nil
}

// ProcessMessagePayload carries a normalized inbound message to the signup
// engine.
type ProcessMessagePayload struct {
	Message InboundMessage `json:"message"`
}

// SendMessagePayload carries one outbound delivery.
type SendMessagePayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// FindGroupPayload asks the matcher to place a registered user.
type FindGroupPayload struct {
	Number string `json:"whatsapp_number"`
}

// ActivateCrawlPayload starts a confirmed group's crawl.
type ActivateCrawlPayload struct {
	GroupID string `json:"group_id"`
}

// AdvanceCrawlPayload fires a scheduled venue advance. Token must match the
// group's pending advance or the task is a safe no-op.
type AdvanceCrawlPayload struct {
	GroupID string `json:"group_id"`
	Token   string `json:"token"`
}

// EndSessionPayload ends an active crawl session.
type EndSessionPayload struct {
	GroupID string `json:"group_id"`
}
