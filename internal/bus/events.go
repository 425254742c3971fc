// Package bus is the in-process event bus Relay publishes dispatch
// lifecycle events on. Subscribers get their own delivery goroutine and a
// bounded channel; slow consumers drop events rather than stall dispatch.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a dispatch lifecycle stage.
type EventType string

const (
	// EventDispatchStarted fires when a dispatch begins, before any
	// lookup or provider work.
	EventDispatchStarted EventType = "dispatch_started"

	// EventKnowledgeHit fires when a stored answer short-circuits the
	// dispatch.
	EventKnowledgeHit EventType = "knowledge_hit"

	// EventTranslationApplied fires when the prompt was translated before
	// the main provider call.
	EventTranslationApplied EventType = "translation_applied"

	// EventProviderCall fires immediately before each provider request,
	// including fallback attempts.
	EventProviderCall EventType = "provider_call"

	// EventFallbackAttempt fires when a failed attempt hands over to the
	// next step in the fallback chain.
	EventFallbackAttempt EventType = "fallback_attempt"

	// EventDispatchCompleted fires when a dispatch returns a result.
	EventDispatchCompleted EventType = "dispatch_completed"

	// EventDispatchFailed fires when a dispatch surfaces an error.
	EventDispatchFailed EventType = "dispatch_failed"
)

// Event is one lifecycle notification. RequestID ties the events of a
// single dispatch together.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       EventType      `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Model      string         `json:"model,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current timestamp.
// Callers fill in the contextual fields before publishing.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}
