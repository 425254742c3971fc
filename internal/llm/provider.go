// Package llm implements the two chat completion providers Relay
// dispatches to: a local OpenAI-compatible inference server (typically
// Ollama's /v1 endpoint) and the OpenRouter cloud API. Both speak the
// same wire format; they differ in authentication, model resolution, and
// how their failures are classified.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ProviderID identifies a wired provider. The values are stable: they
// appear in configuration, API responses, and logs.
type ProviderID string

const (
	ProviderLocal      ProviderID = "local"
	ProviderOpenRouter ProviderID = "openrouter"
)

// Provider is a chat completion backend.
type Provider interface {
	// Name returns the stable provider identifier.
	Name() ProviderID

	// Enabled reports whether the provider is switched on in configuration.
	Enabled() bool

	// Probe checks reachability with a short deadline. It never returns an
	// error: disabled, missing credentials, refused connections, timeouts,
	// and non-2xx answers all read as unreachable.
	Probe(ctx context.Context) bool

	// ListModels returns the concrete model identifiers the provider
	// currently serves.
	ListModels(ctx context.Context) ([]string, error)

	// ResolveModel maps a logical model name to the concrete identifier
	// sent over the wire. Resolution is pure: it never touches the network.
	ResolveModel(logical string) (string, error)

	// Chat sends a single-turn completion request. The returned content is
	// already stripped of reasoning markup.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a single-turn completion request. Model is the concrete
// identifier, already resolved.
type ChatRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// TokenUsage reports token consumption for one completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the sanitized result of a completion. Model is the
// identifier the provider reports it actually served, which can differ
// from the one requested when the provider rewrites aliases. Usage is nil
// when the provider omits it.
type ChatResponse struct {
	Content string
	Model   string
	Usage   *TokenUsage
}

// ═══════════════════════════════════════════════════════════════════════════════
// OPENAI-COMPATIBLE WIRE FORMAT (shared by both providers)
// ═══════════════════════════════════════════════════════════════════════════════

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *TokenUsage `json:"usage"`
}

type modelListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// wireError is the error envelope both providers use on non-2xx answers.
type wireError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// MaxErrorBodySize limits how much of an error response body is read.
// Prevents memory exhaustion from malformed or malicious error payloads.
const MaxErrorBodySize = 1 * 1024 * 1024

// readLimitedBody reads at most MaxErrorBodySize bytes from r.
func readLimitedBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, MaxErrorBodySize))
}

// apiErrorMessage extracts the message from an error envelope, falling
// back to the raw body text when the envelope does not parse.
func apiErrorMessage(body []byte) string {
	var we wireError
	if err := json.Unmarshal(body, &we); err == nil && we.Error.Message != "" {
		return we.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "provider returned no error detail"
	}
	return msg
}

// decodeChatCompletion parses a 2xx chat completion body. A payload that
// does not decode, or decodes with no choices, is an unexpected response:
// the provider said yes but sent nothing usable.
func decodeChatCompletion(provider ProviderID, model string, body io.Reader) (*ChatResponse, error) {
	var wire chatCompletionResponse
	if err := json.NewDecoder(body).Decode(&wire); err != nil {
		return nil, &DispatchError{
			Kind:       KindUnexpectedResponse,
			Provider:   provider,
			Model:      model,
			Message:    fmt.Sprintf("malformed completion payload: %v", err),
			Suggestion: "verify the endpoint speaks the OpenAI chat completions format",
			Cause:      err,
		}
	}
	if len(wire.Choices) == 0 {
		return nil, &DispatchError{
			Kind:       KindUnexpectedResponse,
			Provider:   provider,
			Model:      model,
			Message:    "completion payload contained no choices",
			Suggestion: "the provider accepted the request but produced no output; retry or switch models",
		}
	}
	served := wire.Model
	if served == "" {
		served = model
	}
	return &ChatResponse{
		Content: StripReasoning(wire.Choices[0].Message.Content),
		Model:   served,
		Usage:   wire.Usage,
	}, nil
}

// joinURL appends path to base, tolerating a trailing slash on base.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
