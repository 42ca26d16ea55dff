package core

import "time"

// EventType identifies one unit of the outbound event stream.
type EventType string

const (
	EventToken      EventType = "token"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventRetrieve   EventType = "retrieve"
	EventTrace      EventType = "trace"
	EventFinal      EventType = "final"
	EventError      EventType = "error"
)

// Terminal reports whether the event type ends an invocation. Every
// invocation emits exactly one terminal event, always last.
func (t EventType) Terminal() bool {
	return t == EventFinal || t == EventError
}

// Event is one unit of the outbound stream produced by Engine.Handle.
type Event struct {
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data"`
	TraceID   string         `json:"trace_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(eventType EventType, traceID string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	}
}
