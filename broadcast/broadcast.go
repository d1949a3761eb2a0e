// Package broadcast delivers per-session progress events to observers.
//
// Information Hiding:
// - Observer registry and its locking
// - Payload sanitization before delivery
// - Failed-observer eviction policy
package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// EventType tags the kind of progress event.
type EventType string

const (
	// EventToolInputStart announces a tool invocation about to run.
	EventToolInputStart EventType = "tool-input-start"
	// EventToolOutputAvailable carries a finished tool's result.
	EventToolOutputAvailable EventType = "tool-output-available"
	// EventTextDelta carries a fragment of assistant text.
	EventTextDelta EventType = "text-delta"
	// EventAssistantMessage carries a complete assistant message.
	EventAssistantMessage EventType = "assistant-message"
)

// Event is one progress notification for a session.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	ToolName  string      `json:"tool_name,omitempty"`
	ToolID    string      `json:"tool_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// ToolInputStart builds a tool-invocation announcement.
func ToolInputStart(sessionID, toolID, toolName string, input interface{}) Event {
	return Event{
		Type:      EventToolInputStart,
		SessionID: sessionID,
		ToolID:    toolID,
		ToolName:  toolName,
		Payload:   input,
	}
}

// ToolOutputAvailable builds a tool-result event.
func ToolOutputAvailable(sessionID, toolID, toolName string, output interface{}) Event {
	return Event{
		Type:      EventToolOutputAvailable,
		SessionID: sessionID,
		ToolID:    toolID,
		ToolName:  toolName,
		Payload:   output,
	}
}

// TextDelta builds a text-fragment event.
func TextDelta(sessionID, text string) Event {
	return Event{Type: EventTextDelta, SessionID: sessionID, Payload: text}
}

// AssistantMessage builds a complete-message event.
func AssistantMessage(sessionID, text string) Event {
	return Event{Type: EventAssistantMessage, SessionID: sessionID, Payload: text}
}

// Observer receives events for one session. A non-nil return tells the
// broadcaster the observer is gone and must be dropped.
type Observer func(Event) error

// Broadcaster fans events out to the observers of each session. Delivery is
// best-effort and at-most-once: a failing observer is removed, never retried.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[string]map[int64]Observer
	nextID    int64
	logger    *zap.Logger
}

// New creates a broadcaster. A nil logger means no logging.
func New(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		observers: make(map[string]map[int64]Observer),
		logger:    logger,
	}
}

// Subscribe registers an observer for a session and returns an unsubscribe
// function. Unsubscribing twice is safe.
func (b *Broadcaster) Subscribe(sessionID string, observer Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.observers[sessionID] == nil {
		b.observers[sessionID] = make(map[int64]Observer)
	}
	b.observers[sessionID][id] = observer

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(sessionID, id)
	}
}

// ObserverCount returns how many observers a session currently has.
func (b *Broadcaster) ObserverCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers[sessionID])
}

// Broadcast delivers an event to every observer of its session. The payload
// is sanitized through JSON first so observers never see values their own
// encoders would choke on; an unencodable payload is downgraded to its
// string form.
func (b *Broadcaster) Broadcast(event Event) {
	event.Payload = sanitizePayload(event.Payload)

	b.mu.RLock()
	sessionObservers := b.observers[event.SessionID]
	targets := make(map[int64]Observer, len(sessionObservers))
	for id, obs := range sessionObservers {
		targets[id] = obs
	}
	b.mu.RUnlock()

	var failed []int64
	for id, observer := range targets {
		if err := observer(event); err != nil {
			b.logger.Debug("dropping failed observer",
				zap.String("session_id", event.SessionID),
				zap.Error(err))
			failed = append(failed, id)
		}
	}

	if len(failed) > 0 {
		b.mu.Lock()
		for _, id := range failed {
			b.removeLocked(event.SessionID, id)
		}
		b.mu.Unlock()
	}
}

// DropSession removes all observers of a session.
func (b *Broadcaster) DropSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, sessionID)
}

func (b *Broadcaster) removeLocked(sessionID string, id int64) {
	sessionObservers := b.observers[sessionID]
	if sessionObservers == nil {
		return
	}
	delete(sessionObservers, id)
	if len(sessionObservers) == 0 {
		delete(b.observers, sessionID)
	}
}

// sanitizePayload round-trips the payload through JSON. Strings and nil pass
// through untouched; anything that fails to encode falls back to fmt's
// rendering so an event is never silently lost.
func sanitizePayload(payload interface{}) interface{} {
	switch payload.(type) {
	case nil, string:
		return payload
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}

	var sanitized interface{}
	if err := json.Unmarshal(data, &sanitized); err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return sanitized
}
