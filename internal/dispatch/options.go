package dispatch

// Options carries the caller-supplied knobs for one dispatch. Every
// recognized field is enumerated here; unset fields fall back to
// configuration defaults. Boundaries that decode Options from JSON must
// reject unknown fields instead of ignoring them.
type Options struct {
	// Model pins a logical model name.
	Model string `json:"model,omitempty"`

	// UseOpenRouter pins the provider: true forces the cloud provider,
	// false forces the local one, nil lets dispatch decide.
	UseOpenRouter *bool `json:"use_openrouter,omitempty"`

	// OpenRouterModel pins a cloud model key and implies the cloud provider.
	OpenRouterModel string `json:"openrouter_model,omitempty"`

	// Temperature overrides the default sampling temperature.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens overrides the default completion-length cap.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// SkipKnowledgeBase bypasses the stored-answer lookup.
	SkipKnowledgeBase bool `json:"skip_knowledge_base,omitempty"`

	// KnowledgeBase overrides the dispatcher's stored-answer collaborator
	// for this call. Not settable over the wire.
	KnowledgeBase KnowledgeBase `json:"-"`
}

// Explicit reports whether the caller pinned a provider or model.
// Explicit requests either succeed with exactly what was asked for or
// fail; they never fall back across providers.
func (o Options) Explicit() bool {
	return o.Model != "" || o.UseOpenRouter != nil || o.OpenRouterModel != ""
}
