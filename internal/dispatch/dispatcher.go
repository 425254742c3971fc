// Package dispatch routes prompts to LLM providers. It classifies each
// prompt, picks a provider and logical model, translates prompts for
// English-only local models, and walks a bounded fallback chain when an
// automatic request fails. Explicit requests never substitute providers:
// they succeed with exactly what was asked for or fail with a structured
// error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/normanking/relay/internal/bus"
	"github.com/normanking/relay/internal/config"
	"github.com/normanking/relay/internal/llm"
	"github.com/normanking/relay/internal/logging"
)

// ErrEmptyPrompt is returned when a request carries no prompt text.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Dispatcher routes prompts to the local and cloud providers according to
// caller options and Smart-Auto-Mode policy. It is safe for concurrent
// use: configuration is read-only after construction, per-request state
// lives in the Result, and the LastResult snapshot sits behind its own
// mutex.
type Dispatcher struct {
	cfg        *config.Config
	local      llm.Provider
	cloud      llm.Provider
	translator Translator
	kb         KnowledgeBase
	events     *bus.Bus
	log        *logging.Logger

	mu   sync.Mutex
	last *Result
}

// Option customizes a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithLocalProvider replaces the default local provider.
func WithLocalProvider(p llm.Provider) Option {
	return func(d *Dispatcher) { d.local = p }
}

// WithCloudProvider replaces the default cloud provider.
func WithCloudProvider(p llm.Provider) Option {
	return func(d *Dispatcher) { d.cloud = p }
}

// WithTranslator replaces the default prompt translator.
func WithTranslator(t Translator) Option {
	return func(d *Dispatcher) { d.translator = t }
}

// WithKnowledgeBase wires a stored-answer lookup that is consulted before
// any provider call.
func WithKnowledgeBase(kb KnowledgeBase) Option {
	return func(d *Dispatcher) { d.kb = kb }
}

// WithBus wires an event bus that receives dispatch lifecycle events.
func WithBus(b *bus.Bus) Option {
	return func(d *Dispatcher) { d.events = b }
}

// New builds a Dispatcher from validated configuration. Configuration
// problems are fatal here; nothing later in the pipeline re-checks them.
func New(cfg *config.Config, opts ...Option) (*Dispatcher, error) {
	if cfg == nil {
		return nil, &llm.DispatchError{
			Kind:    llm.KindConfigLoad,
			Message: "no configuration provided",
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &llm.DispatchError{
			Kind:       llm.KindConfigLoad,
			Message:    err.Error(),
			Suggestion: "fix the configuration file and retry",
			Cause:      err,
		}
	}

	d := &Dispatcher{
		cfg: cfg,
		log: logging.Global().WithComponent("Dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.local == nil || d.cloud == nil {
		local, cloud := llm.NewProviders(cfg)
		if d.local == nil {
			d.local = local
		}
		if d.cloud == nil {
			d.cloud = cloud
		}
	}

	if d.translator == nil && cfg.LLM.Local.Enabled && cfg.LLM.Local.TranslatorModel != "" {
		d.translator = newProviderTranslator(d.local, cfg.LLM.Local.TranslatorModel)
	}

	return d, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// DISPATCH PIPELINE
// ═══════════════════════════════════════════════════════════════════════════════

// Send dispatches one prompt through the full pipeline: knowledge-base
// lookup, language and task classification, provider and model selection,
// the translation step for English-only local models, execution, and the
// fallback chain for automatic requests. Cancelling ctx aborts the
// in-flight call and abandons any queued fallback step.
func (d *Dispatcher) Send(ctx context.Context, prompt string, opts Options) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	requestID := logging.NewRequestID()
	ctx = logging.WithRequestID(ctx, requestID)

	language := DetectLanguage(prompt)
	category := ClassifyTask(prompt)

	d.log.Info("dispatch %s: language=%s category=%s explicit=%v", requestID, language, category, opts.Explicit())

	started := bus.NewEvent(bus.EventDispatchStarted)
	started.RequestID = requestID
	started.Details = map[string]any{
		"language": string(language),
		"category": string(category),
		"explicit": opts.Explicit(),
	}
	d.publish(started)

	if result := d.lookupKnowledge(ctx, requestID, prompt, opts, language, category); result != nil {
		d.completed(result)
		return result, nil
	}

	result, err := d.run(ctx, requestID, prompt, opts, language, category)
	if err != nil {
		failed := bus.NewEvent(bus.EventDispatchFailed)
		failed.RequestID = requestID
		failed.Error = err.Error()
		if de, ok := llm.AsDispatchError(err); ok {
			failed.Provider = string(de.Provider)
			failed.Model = de.Model
		}
		d.publish(failed)
		d.log.Error("dispatch %s: failed: %v", requestID, err)
		return nil, err
	}

	d.completed(result)
	return result, nil
}

// run executes the provider-selection, translation, execution, and
// fallback stages for one dispatch.
func (d *Dispatcher) run(ctx context.Context, requestID, prompt string, opts Options, language Language, category TaskCategory) (*Result, error) {
	primary := d.chooseProvider(opts)
	logical := d.chooseModel(primary, category, opts)
	provider := d.provider(primary)
	explicit := opts.Explicit()

	unreachable := make(map[llm.ProviderID]bool)
	attempted := make(map[attemptKey]bool)
	aliasRetried := false

	var lastErr error
	if !explicit && primary == llm.ProviderLocal && provider.Enabled() && !provider.Probe(ctx) {
		// A failed probe is authoritative for the remainder of this
		// dispatch: skip straight to the fallback chain.
		unreachable[llm.ProviderLocal] = true
		lastErr = &llm.DispatchError{
			Kind:       llm.KindProviderUnreachable,
			Provider:   llm.ProviderLocal,
			Model:      logical,
			Message:    "availability probe failed",
			Suggestion: "start the local inference server (for Ollama: ollama serve) or enable the cloud provider",
		}
		d.log.Warn("dispatch %s: local provider failed availability probe", requestID)
	}

	if lastErr == nil {
		effectivePrompt := prompt
		translated := false
		if primary == llm.ProviderLocal {
			var err error
			effectivePrompt, logical, translated, err = d.prepareLocalPrompt(ctx, requestID, prompt, logical, language)
			if err != nil {
				return nil, err
			}
		}

		resp, elapsed, usedLogical, err := d.call(ctx, provider, logical, effectivePrompt, opts, &aliasRetried, attempted)
		if err == nil {
			return d.buildResult(requestID, resp, primary, usedLogical, language, category, translated, false, elapsed), nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		d.log.Warn("dispatch %s: %s attempt failed: %v", requestID, primary, err)
	}

	if explicit || !d.autoFallback(primary) {
		return nil, lastErr
	}

	return d.runFallbacks(ctx, requestID, primary, prompt, opts, language, category, unreachable, attempted, &aliasRetried, lastErr)
}

// runFallbacks walks the ordered fallback chain after a failed automatic
// attempt: first the other provider's default model, then the
// Smart-Auto-Mode fallback model on the local provider. The first success
// wins; a done context abandons any queued step.
func (d *Dispatcher) runFallbacks(ctx context.Context, requestID string, primary llm.ProviderID, prompt string, opts Options, language Language, category TaskCategory, unreachable map[llm.ProviderID]bool, attempted map[attemptKey]bool, aliasRetried *bool, lastErr error) (*Result, error) {
	other := llm.ProviderLocal
	if primary == llm.ProviderLocal {
		other = llm.ProviderOpenRouter
	}

	type candidate struct {
		id      llm.ProviderID
		logical string
		probe   bool
	}
	chain := []candidate{
		{id: other, logical: d.defaultModel(other), probe: true},
		{id: llm.ProviderLocal, logical: d.cfg.SmartAuto.FallbackModel, probe: false},
	}

	for _, c := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.logical == "" || unreachable[c.id] || attempted[attemptKey{c.id, c.logical}] {
			continue
		}

		p := d.provider(c.id)
		if !p.Enabled() {
			continue
		}
		if c.probe && !p.Probe(ctx) {
			unreachable[c.id] = true
			d.log.Warn("dispatch %s: fallback provider %s failed availability probe", requestID, c.id)
			continue
		}

		evt := bus.NewEvent(bus.EventFallbackAttempt)
		evt.RequestID = requestID
		evt.Provider = string(c.id)
		evt.Model = c.logical
		if lastErr != nil {
			evt.Error = lastErr.Error()
		}
		d.publish(evt)
		d.log.Info("dispatch %s: falling back to %s/%s", requestID, c.id, c.logical)

		resp, elapsed, usedLogical, err := d.call(ctx, p, c.logical, prompt, opts, aliasRetried, attempted)
		if err == nil {
			return d.buildResult(requestID, resp, c.id, usedLogical, language, category, false, true, elapsed), nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		d.log.Warn("dispatch %s: fallback %s/%s failed: %v", requestID, c.id, c.logical, err)
	}

	return nil, exhaustedError(lastErr)
}

// attemptKey identifies one provider/model attempt so the fallback chain
// never repeats a combination the dispatch already tried.
type attemptKey struct {
	provider llm.ProviderID
	logical  string
}

// call resolves and executes one provider attempt. A cloud 404 on a known
// unstable free-tier alias is retried once against its stable alias; that
// retry budget is shared across the whole dispatch.
func (d *Dispatcher) call(ctx context.Context, p llm.Provider, logical, prompt string, opts Options, aliasRetried *bool, attempted map[attemptKey]bool) (*llm.ChatResponse, time.Duration, string, error) {
	attempted[attemptKey{p.Name(), logical}] = true

	resp, elapsed, err := d.execute(ctx, p, logical, prompt, opts)
	if err == nil {
		return resp, elapsed, logical, nil
	}

	if p.Name() == llm.ProviderOpenRouter && !*aliasRetried {
		if de, ok := llm.AsDispatchError(err); ok &&
			de.Kind == llm.KindModelNotFound &&
			de.HTTPStatus == http.StatusNotFound {
			if stable := llm.StableAlias(de.Model); stable != "" {
				*aliasRetried = true
				attempted[attemptKey{p.Name(), stable}] = true
				d.log.Warn("model %s rejected with 404, retrying with stable alias %s", de.Model, stable)

				resp, elapsed, err = d.execute(ctx, p, stable, prompt, opts)
				return resp, elapsed, stable, err
			}
		}
	}

	return nil, elapsed, logical, err
}

// execute resolves the logical model and performs a single provider call.
func (d *Dispatcher) execute(ctx context.Context, p llm.Provider, logical, prompt string, opts Options) (*llm.ChatResponse, time.Duration, error) {
	concrete, err := p.ResolveModel(logical)
	if err != nil {
		return nil, 0, err
	}

	evt := bus.NewEvent(bus.EventProviderCall)
	evt.RequestID = logging.RequestIDFrom(ctx)
	evt.Provider = string(p.Name())
	evt.Model = concrete
	d.publish(evt)

	start := time.Now()
	resp, err := p.Chat(ctx, &llm.ChatRequest{
		Model:       concrete,
		Prompt:      prompt,
		Temperature: d.temperature(opts),
		MaxTokens:   d.maxTokens(opts),
	})
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, err
	}
	return resp, elapsed, nil
}

// prepareLocalPrompt inserts the translation step for English-only local
// models. A failed translation degrades to the language-agnostic
// translator model with the original prompt rather than aborting.
func (d *Dispatcher) prepareLocalPrompt(ctx context.Context, requestID, prompt, logical string, language Language) (string, string, bool, error) {
	if language != LanguageRussian || !d.cfg.LLM.Local.RequiresEnglish(logical) {
		return prompt, logical, false, nil
	}

	if d.translator == nil {
		d.log.Warn("dispatch %s: model %s accepts English only and no translator is configured", requestID, logical)
		return prompt, logical, false, nil
	}

	translated, err := d.translator.TranslateToEnglish(ctx, prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", false, ctxErr
		}
		if agnostic := d.cfg.LLM.Local.TranslatorModel; agnostic != "" {
			d.log.Warn("dispatch %s: translation failed (%v); degrading to %s with the original prompt", requestID, err, agnostic)
			return prompt, agnostic, false, nil
		}
		d.log.Warn("dispatch %s: translation failed (%v); sending the original prompt", requestID, err)
		return prompt, logical, false, nil
	}

	evt := bus.NewEvent(bus.EventTranslationApplied)
	evt.RequestID = requestID
	evt.Provider = string(llm.ProviderLocal)
	evt.Model = logical
	evt.Details = map[string]any{"from_language": string(language)}
	d.publish(evt)
	d.log.Debug("dispatch %s: prompt translated to English for %s", requestID, logical)

	return translated, logical, true, nil
}

// lookupKnowledge consults the stored-answer collaborator. A hit needs
// both the minimum average rating and at least one recorded rating.
// Lookup failures are logged and swallowed; dispatch proceeds normally.
func (d *Dispatcher) lookupKnowledge(ctx context.Context, requestID, prompt string, opts Options, language Language, category TaskCategory) *Result {
	kb := d.kb
	if opts.KnowledgeBase != nil {
		kb = opts.KnowledgeBase
	}
	if kb == nil || opts.SkipKnowledgeBase {
		return nil
	}

	start := time.Now()
	answers, err := kb.Lookup(ctx, prompt)
	if err != nil {
		d.log.Warn("dispatch %s: knowledge lookup failed: %v", requestID, err)
		return nil
	}

	for _, a := range answers {
		if a.RatingCount == 0 || a.AverageRating < d.cfg.Knowledge.MinRating {
			continue
		}
		elapsed := time.Since(start)

		evt := bus.NewEvent(bus.EventKnowledgeHit)
		evt.RequestID = requestID
		evt.Details = map[string]any{
			"question": a.Question,
			"rating":   a.AverageRating,
		}
		d.publish(evt)
		d.log.Info("dispatch %s: knowledge base hit (rating %.1f, %d votes)", requestID, a.AverageRating, a.RatingCount)

		return &Result{
			RequestID:         requestID,
			Content:           a.Answer,
			Language:          language,
			Category:          category,
			FromKnowledgeBase: true,
			Elapsed:           elapsed,
			ElapsedMs:         elapsed.Milliseconds(),
		}
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// AUXILIARY QUERIES
// ═══════════════════════════════════════════════════════════════════════════════

// AvailableModels queries both providers for their advertised models.
// The providers are queried independently; a failure on one side yields
// an empty list for that side rather than an error for the whole call.
func (d *Dispatcher) AvailableModels(ctx context.Context) ModelList {
	list := ModelList{Local: []string{}, External: []string{}}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		models, err := d.local.ListModels(ctx)
		if err != nil {
			d.log.Debug("local model listing failed: %v", err)
			return
		}
		list.Local = models
	}()
	go func() {
		defer wg.Done()
		models, err := d.cloud.ListModels(ctx)
		if err != nil {
			d.log.Debug("cloud model listing failed: %v", err)
			return
		}
		list.External = models
	}()
	wg.Wait()

	return list
}

// TranslateToEnglish translates text through the configured translator.
// Exposed for the CLI and gateway translation surfaces.
func (d *Dispatcher) TranslateToEnglish(ctx context.Context, text string) (string, error) {
	if d.translator == nil {
		return "", &llm.DispatchError{
			Kind:       llm.KindTranslationFailed,
			Message:    "no translator model configured",
			Suggestion: "set llm.local.translator_model in the config file",
		}
	}

	out, err := d.translator.TranslateToEnglish(ctx, text)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		if llm.IsKind(err, llm.KindTranslationFailed) {
			return "", err
		}
		de := &llm.DispatchError{
			Kind:    llm.KindTranslationFailed,
			Message: fmt.Sprintf("translation failed: %v", err),
			Cause:   err,
		}
		if inner, ok := llm.AsDispatchError(err); ok {
			de.Provider = inner.Provider
			de.Model = inner.Model
		}
		return "", de
	}
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SELECTION POLICY
// ═══════════════════════════════════════════════════════════════════════════════

// chooseProvider determines the provider preference for one request: an
// explicit caller choice wins; otherwise the cloud provider is preferred
// only when it is enabled and credentialed.
func (d *Dispatcher) chooseProvider(opts Options) llm.ProviderID {
	if opts.UseOpenRouter != nil {
		if *opts.UseOpenRouter {
			return llm.ProviderOpenRouter
		}
		return llm.ProviderLocal
	}
	if opts.OpenRouterModel != "" {
		return llm.ProviderOpenRouter
	}
	if d.cfg.LLM.OpenRouter.Enabled && d.cfg.LLM.OpenRouter.Credentialed() {
		return llm.ProviderOpenRouter
	}
	return llm.ProviderLocal
}

// chooseModel picks the logical model for the chosen provider. The cloud
// leg honors the explicit cloud key or falls back to the provider default;
// the local leg goes through Smart-Auto-Mode selection.
func (d *Dispatcher) chooseModel(provider llm.ProviderID, category TaskCategory, opts Options) string {
	if provider == llm.ProviderOpenRouter {
		if opts.OpenRouterModel != "" {
			return opts.OpenRouterModel
		}
		if opts.Model != "" {
			return opts.Model
		}
		return d.cfg.LLM.OpenRouter.DefaultModel
	}

	logical := SelectModel(category, opts, d.cfg.SmartAuto)
	if logical == "" {
		logical = d.cfg.LLM.Local.DefaultModel
	}
	return logical
}

// provider maps a provider id to its client.
func (d *Dispatcher) provider(id llm.ProviderID) llm.Provider {
	if id == llm.ProviderOpenRouter {
		return d.cloud
	}
	return d.local
}

// defaultModel returns the per-provider default used by the fallback chain.
func (d *Dispatcher) defaultModel(id llm.ProviderID) string {
	if id == llm.ProviderOpenRouter {
		return d.cfg.LLM.OpenRouter.DefaultModel
	}
	return d.cfg.LLM.Local.DefaultModel
}

// autoFallback reports whether the failed primary provider permits
// automatic cross-provider fallback.
func (d *Dispatcher) autoFallback(id llm.ProviderID) bool {
	if id == llm.ProviderOpenRouter {
		return d.cfg.LLM.OpenRouter.AutoFallback
	}
	return d.cfg.LLM.Local.AutoFallback
}

func (d *Dispatcher) temperature(opts Options) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return d.cfg.Defaults.Temperature
}

func (d *Dispatcher) maxTokens(opts Options) int {
	if opts.MaxTokens != nil {
		return *opts.MaxTokens
	}
	return d.cfg.Defaults.MaxTokens
}

// ═══════════════════════════════════════════════════════════════════════════════
// BOOKKEEPING
// ═══════════════════════════════════════════════════════════════════════════════

// buildResult assembles the per-call result value.
func (d *Dispatcher) buildResult(requestID string, resp *llm.ChatResponse, provider llm.ProviderID, logical string, language Language, category TaskCategory, translated, fallback bool, elapsed time.Duration) *Result {
	return &Result{
		RequestID:      requestID,
		Content:        resp.Content,
		UsedProvider:   provider,
		UsedModel:      resp.Model,
		RequestedModel: logical,
		Language:       language,
		Category:       category,
		Translated:     translated,
		FallbackUsed:   fallback,
		Usage:          resp.Usage,
		Elapsed:        elapsed,
		ElapsedMs:      elapsed.Milliseconds(),
	}
}

// LastResult returns the most recent successful dispatch, or nil before
// the first one. Dispatch logic never reads it; it exists so embedders
// can render last-call provenance without tracking results themselves.
func (d *Dispatcher) LastResult() *Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// completed records the snapshot and publishes the terminal success event
// for a dispatch.
func (d *Dispatcher) completed(result *Result) {
	d.mu.Lock()
	d.last = result
	d.mu.Unlock()

	evt := bus.NewEvent(bus.EventDispatchCompleted)
	evt.RequestID = result.RequestID
	evt.Provider = string(result.UsedProvider)
	evt.Model = result.UsedModel
	evt.DurationMs = result.ElapsedMs
	evt.Details = map[string]any{
		"fallback_used":       result.FallbackUsed,
		"translated":          result.Translated,
		"from_knowledge_base": result.FromKnowledgeBase,
	}
	d.publish(evt)
	d.log.Info("dispatch %s: completed provider=%s model=%s elapsed=%v", result.RequestID, result.UsedProvider, result.UsedModel, result.Elapsed)
}

// publish emits an event when a bus is wired; dispatch works without one.
func (d *Dispatcher) publish(evt bus.Event) {
	if d.events == nil {
		return
	}
	_ = d.events.Publish(evt)
}

// exhaustedError wraps the last failure once every fallback has been
// tried, copying the inner provider/model/status so callers can render
// the concrete failure without unwrapping.
func exhaustedError(lastErr error) error {
	de := &llm.DispatchError{
		Kind:       llm.KindAllFallbacksExhausted,
		Message:    fmt.Sprintf("all fallbacks exhausted; last failure: %v", lastErr),
		Suggestion: "check provider availability and credentials",
		Cause:      lastErr,
	}
	if inner, ok := llm.AsDispatchError(lastErr); ok {
		de.Provider = inner.Provider
		de.Model = inner.Model
		de.HTTPStatus = inner.HTTPStatus
	}
	return de
}
