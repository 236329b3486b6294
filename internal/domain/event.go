package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventStreamStarted   EventType = "stream.started"
	EventStreamDelta     EventType = "stream.delta"
	EventStreamCompleted EventType = "stream.completed"
	EventStreamError     EventType = "stream.error"

	EventMessageAppended EventType = "message.appended"

	EventToolApprovalReq  EventType = "tool.approval.request"
	EventToolApprovalResp EventType = "tool.approval.response"

	EventConnectionChanged EventType = "connection.changed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a single event.
type EventHandler func(ctx context.Context, event Event)

// EventBus decouples publishers from subscribers. Implementations must be
// safe for concurrent use.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
	Close()
}

// StreamDeltaPayload is the payload for EventStreamDelta events, published
// for each content unit appended or updated during a streaming turn.
type StreamDeltaPayload struct {
	MessageID string `json:"message_id"`
	UnitID    string `json:"unit_id"`
	Kind      Kind   `json:"kind"`
}

// StreamErrorPayload is the payload for EventStreamError events, published
// when a streaming message stalls.
type StreamErrorPayload struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// ApprovalRequestPayload is the payload for EventToolApprovalReq events.
type ApprovalRequestPayload struct {
	MessageID  string `json:"message_id"`
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
}

// ApprovalResponsePayload is the payload for EventToolApprovalResp events.
type ApprovalResponsePayload struct {
	ToolCallID string `json:"tool_call_id"`
	Approved   bool   `json:"approved"`
}
