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

	"github.com/normanking/relay/internal/config"
	"github.com/normanking/relay/internal/logging"
)

// LocalProvider talks to an OpenAI-compatible inference server on the
// local machine. Model names are resolved strictly through the configured
// table: there is no pass-through, because a typo sent to a local server
// costs a model load before it fails.
type LocalProvider struct {
	cfg    config.LocalProviderConfig
	client *http.Client
	log    *logging.Logger
}

// NewLocalProvider builds the provider from its configuration section.
func NewLocalProvider(cfg config.LocalProviderConfig) *LocalProvider {
	return &LocalProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout()},
		log:    logging.Global().WithComponent("LocalLLM"),
	}
}

// Name implements Provider.
func (p *LocalProvider) Name() ProviderID { return ProviderLocal }

// Enabled implements Provider.
func (p *LocalProvider) Enabled() bool { return p.cfg.Enabled }

// Probe checks whether the server answers its model listing endpoint
// within the probe window. Any failure at all reads as unreachable.
func (p *LocalProvider) Probe(ctx context.Context) bool {
	if !p.cfg.Enabled {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(p.cfg.BaseURL, "/models"), nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("probe failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, MaxErrorBodySize))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ListModels returns the concrete model identifiers the server reports,
// sorted for stable output.
func (p *LocalProvider) ListModels(ctx context.Context) ([]string, error) {
	if !p.cfg.Enabled {
		return nil, p.disabledError("")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(p.cfg.BaseURL, "/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("build model list request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, newTransportError(ctx, ProviderLocal, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readLimitedBody(resp.Body)
		return nil, &DispatchError{
			Kind:       KindProviderAPIError,
			Provider:   ProviderLocal,
			HTTPStatus: resp.StatusCode,
			Message:    apiErrorMessage(body),
			Suggestion: "the server answered but rejected the model listing; check its logs",
		}
	}

	var wire modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &DispatchError{
			Kind:       KindUnexpectedResponse,
			Provider:   ProviderLocal,
			Message:    fmt.Sprintf("malformed model list: %v", err),
			Suggestion: "verify llm.local.base_url points at an OpenAI-compatible /v1 endpoint",
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
func (p *LocalProvider) ResolveModel(logical string) (string, error) {
	if concrete, ok := p.cfg.Models[logical]; ok {
		return concrete, nil
	}
	return "", &DispatchError{
		Kind:       KindModelNotFound,
		Provider:   ProviderLocal,
		Model:      logical,
		Message:    fmt.Sprintf("no model mapping for %q", logical),
		Suggestion: fmt.Sprintf("add %q to llm.local.models or use one of: %s", logical, strings.Join(p.knownModels(), ", ")),
	}
}

func (p *LocalProvider) knownModels() []string {
	keys := make([]string, 0, len(p.cfg.Models))
	for k := range p.cfg.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Chat sends a single-turn completion request.
func (p *LocalProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if !p.cfg.Enabled {
		return nil, p.disabledError(req.Model)
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

	p.log.Debug("chat request model=%s prompt_len=%d", req.Model, len(req.Prompt))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, newTransportError(ctx, ProviderLocal, req.Model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := readLimitedBody(resp.Body)
		return nil, &DispatchError{
			Kind:       KindProviderAPIError,
			Provider:   ProviderLocal,
			Model:      req.Model,
			HTTPStatus: resp.StatusCode,
			Message:    apiErrorMessage(errBody),
			Suggestion: "the request reached the server but was rejected; check that the model is pulled",
		}
	}

	return decodeChatCompletion(ProviderLocal, req.Model, resp.Body)
}

func (p *LocalProvider) disabledError(model string) *DispatchError {
	return &DispatchError{
		Kind:       KindProviderDisabled,
		Provider:   ProviderLocal,
		Model:      model,
		Message:    "local provider is disabled",
		Suggestion: "set llm.local.enabled: true in the config file",
	}
}
