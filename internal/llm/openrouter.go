package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/normanking/relay/internal/config"
	"github.com/normanking/relay/internal/logging"
)

// cloudProbeTimeout bounds the availability probe. Cloud round-trips are
// slower than localhost, so this is looser than the local probe window.
const cloudProbeTimeout = 5 * time.Second

// OpenRouterProvider talks to the OpenRouter chat completions API.
// Unlike the local provider it lets namespaced model identifiers pass
// through unresolved, so any model in the OpenRouter catalog can be
// addressed directly.
type OpenRouterProvider struct {
	cfg    config.OpenRouterConfig
	client *http.Client
	log    *logging.Logger
}

// NewOpenRouterProvider builds the provider from its configuration section.
func NewOpenRouterProvider(cfg config.OpenRouterConfig) *OpenRouterProvider {
	return &OpenRouterProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout()},
		log:    logging.Global().WithComponent("OpenRouter"),
	}
}

// Name implements Provider.
func (p *OpenRouterProvider) Name() ProviderID { return ProviderOpenRouter }

// Enabled implements Provider.
func (p *OpenRouterProvider) Enabled() bool { return p.cfg.Enabled }

// setHeaders applies the Bearer token plus the attribution headers
// OpenRouter uses for app rankings.
func (p *OpenRouterProvider) setHeaders(req *http.Request, key string) {
	req.Header.Set("Authorization", "Bearer "+key)
	if p.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", p.cfg.Referer)
	}
	if p.cfg.AppTitle != "" {
		req.Header.Set("X-Title", p.cfg.AppTitle)
	}
}

// Probe verifies the API answers the model listing endpoint. A missing
// API key fails immediately, without touching the network.
func (p *OpenRouterProvider) Probe(ctx context.Context) bool {
	if !p.cfg.Enabled {
		return false
	}
	key := p.cfg.ResolveAPIKey()
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, cloudProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(p.cfg.BaseURL, "/models"), nil)
	if err != nil {
		return false
	}
	p.setHeaders(req, key)
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("probe failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, MaxErrorBodySize))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ListModels returns the concrete model identifiers the API reports,
// sorted for stable output.
func (p *OpenRouterProvider) ListModels(ctx context.Context) ([]string, error) {
	if !p.cfg.Enabled {
		return nil, p.disabledError("")
	}
	key := p.cfg.ResolveAPIKey()
	if key == "" {
		return nil, p.credentialError("")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(p.cfg.BaseURL, "/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("build model list request: %w", err)
	}
	p.setHeaders(req, key)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, newTransportError(ctx, ProviderOpenRouter, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readLimitedBody(resp.Body)
		return nil, p.statusError(resp.StatusCode, "", apiErrorMessage(body))
	}

	var wire modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &DispatchError{
			Kind:       KindUnexpectedResponse,
			Provider:   ProviderOpenRouter,
			Message:    fmt.Sprintf("malformed model list: %v", err),
			Suggestion: "verify llm.openrouter.base_url ends in /api/v1",
			Cause:      err,
		}
	}
	names := make([]string, 0, len(wire.Data))
	for _, m := range wire.Data {
		names = append(names, m.ID)
	}
	sort.Strings(names)
	return names, nil
}

// ResolveModel maps a logical name through the configured model table.
// The table wins when it has an entry, so deployments can repoint short
// names. Otherwise names that already carry a provider namespace (they
// contain a slash) pass through verbatim.
func (p *OpenRouterProvider) ResolveModel(logical string) (string, error) {
	if concrete, ok := p.cfg.Models[logical]; ok {
		return concrete, nil
	}
	if strings.Contains(logical, "/") {
		return logical, nil
	}
	return "", &DispatchError{
		Kind:       KindModelNotFound,
		Provider:   ProviderOpenRouter,
		Model:      logical,
		Message:    fmt.Sprintf("no model mapping for %q", logical),
		Suggestion: fmt.Sprintf("use a namespaced id like \"deepseek/deepseek-chat\" or add %q to llm.openrouter.models", logical),
	}
}

// Chat sends a single-turn completion request.
func (p *OpenRouterProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if !p.cfg.Enabled {
		return nil, p.disabledError(req.Model)
	}
	key := p.cfg.ResolveAPIKey()
	if key == "" {
		return nil, p.credentialError(req.Model)
	}

	body, err := json.Marshal(&chatCompletionRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(p.cfg.BaseURL, "/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.setHeaders(httpReq, key)

	p.log.Debug("chat request model=%s prompt_len=%d", req.Model, len(req.Prompt))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, newTransportError(ctx, ProviderOpenRouter, req.Model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := readLimitedBody(resp.Body)
		return nil, p.statusError(resp.StatusCode, req.Model, apiErrorMessage(errBody))
	}

	return decodeChatCompletion(ProviderOpenRouter, req.Model, resp.Body)
}

// statusError maps an HTTP error status to its error kind, with the status
// code in hand. Nothing downstream re-derives the kind from the message.
func (p *OpenRouterProvider) statusError(status int, model, message string) *DispatchError {
	de := &DispatchError{
		Provider:   ProviderOpenRouter,
		Model:      model,
		HTTPStatus: status,
		Message:    message,
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		de.Kind = KindAuthError
		de.Suggestion = "check that the OpenRouter API key is valid and has not been revoked"
	case status == http.StatusPaymentRequired:
		de.Kind = KindInsufficientFunds
		de.Suggestion = "top up the OpenRouter balance or switch to a free model"
	case status == http.StatusTooManyRequests:
		de.Kind = KindRateLimited
		de.Suggestion = "wait before retrying or reduce request frequency"
	case status == http.StatusNotFound:
		de.Kind = KindModelNotFound
		de.Suggestion = modelNotFoundSuggestion(model)
	case status >= 500:
		de.Kind = KindProviderUnavailable
		de.Suggestion = "OpenRouter is having trouble upstream; retry shortly"
	default:
		de.Kind = KindProviderAPIError
		de.Suggestion = "the request was rejected before reaching a model; inspect the message"
	}
	return de
}

func (p *OpenRouterProvider) disabledError(model string) *DispatchError {
	return &DispatchError{
		Kind:       KindProviderDisabled,
		Provider:   ProviderOpenRouter,
		Model:      model,
		Message:    "openrouter provider is disabled",
		Suggestion: "set llm.openrouter.enabled: true in the config file",
	}
}

func (p *OpenRouterProvider) credentialError(model string) *DispatchError {
	return &DispatchError{
		Kind:       KindCredentialMissing,
		Provider:   ProviderOpenRouter,
		Model:      model,
		Message:    "no OpenRouter API key configured",
		Suggestion: "set the OPENROUTER_API_KEY environment variable or llm.openrouter.api_key",
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// UNSTABLE FREE ALIASES
// ═══════════════════════════════════════════════════════════════════════════════

// Free DeepSeek R1 aliases come and go on OpenRouter. When one vanishes
// the stable paid alias still answers, so a 404 on the free alias has a
// known-good substitute. The substitution lives here as data, next to the
// 404 mapping, so the dispatcher and the suggestion text cannot drift.

// IsUnstableFreeAlias reports whether model is a free DeepSeek R1 alias
// that OpenRouter periodically withdraws.
func IsUnstableFreeAlias(model string) bool {
	return strings.Contains(model, "deepseek-r1") && strings.HasSuffix(model, ":free")
}

// StableAlias returns the dependable logical substitute for an unstable
// free alias, or "" when none is known.
func StableAlias(model string) string {
	if IsUnstableFreeAlias(model) {
		return "deepseek-chat"
	}
	return ""
}

func modelNotFoundSuggestion(model string) string {
	if alt := StableAlias(model); alt != "" {
		return fmt.Sprintf("the free alias is unstable; try %q instead", alt)
	}
	return "check the model id against the OpenRouter catalog"
}
