package dispatch

import (
	"time"

	"github.com/normanking/relay/internal/llm"
)

// Result describes one completed dispatch. Everything a caller can
// observe about the call lives here; the Dispatcher keeps no per-request
// state, so results from concurrent calls never describe each other.
type Result struct {
	// RequestID correlates the result with log lines and bus events.
	RequestID string `json:"request_id"`

	// Content is the sanitized answer text.
	Content string `json:"content"`

	// UsedProvider names the provider that produced the answer.
	// Empty for knowledge-base hits.
	UsedProvider llm.ProviderID `json:"used_provider,omitempty"`

	// UsedModel is the concrete model that actually served the request.
	// The cloud provider may substitute, so this can differ from the
	// resolved form of RequestedModel.
	UsedModel string `json:"used_model,omitempty"`

	// RequestedModel is the logical model the winning attempt asked for.
	RequestedModel string `json:"requested_model,omitempty"`

	// Language is the detected prompt language.
	Language Language `json:"language"`

	// Category is the classified task category.
	Category TaskCategory `json:"category"`

	// Translated reports whether the prompt was translated before the
	// main provider call.
	Translated bool `json:"translated,omitempty"`

	// FromKnowledgeBase marks answers served from the stored-answer cache
	// instead of a live model.
	FromKnowledgeBase bool `json:"from_knowledge_base,omitempty"`

	// FallbackUsed reports whether a fallback attempt produced the answer.
	FallbackUsed bool `json:"fallback_used,omitempty"`

	// Usage carries token accounting when the provider reported it.
	Usage *llm.TokenUsage `json:"usage,omitempty"`

	// Elapsed is the wall time of the winning provider call.
	Elapsed time.Duration `json:"-"`

	// ElapsedMs mirrors Elapsed for serialization.
	ElapsedMs int64 `json:"elapsed_ms"`
}

// ModelList partitions the model identifiers advertised by each provider.
type ModelList struct {
	Local    []string `json:"local"`
	External []string `json:"external"`
}
