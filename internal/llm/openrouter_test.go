package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/relay/internal/config"
)

func openRouterTestConfig(baseURL string) config.OpenRouterConfig {
	return config.OpenRouterConfig{
		Enabled:      true,
		BaseURL:      baseURL,
		TimeoutSec:   5,
		APIKey:       "sk-or-test-key",
		DefaultModel: "deepseek/deepseek-chat",
		AutoFallback: true,
		Models: map[string]string{
			"chat":             "deepseek/deepseek-chat",
			"deepseek-r1:free": "deepseek/deepseek-r1:free",
			"deepseek-chat":    "deepseek/deepseek-chat",
		},
		Referer:  "https://github.com/normanking/relay",
		AppTitle: "Relay",
	}
}

// TestOpenRouterHeaders verifies every request carries the Bearer token
// and the attribution headers.
func TestOpenRouterHeaders(t *testing.T) {
	var gotAuth, gotReferer, gotTitle string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "deepseek/deepseek-chat",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "hello"}},
			},
		})
	}))
	defer server.Close()

	p := NewOpenRouterProvider(openRouterTestConfig(server.URL))

	_, err := p.Chat(context.Background(), &ChatRequest{Model: "deepseek/deepseek-chat", Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-or-test-key", gotAuth)
	assert.Equal(t, "https://github.com/normanking/relay", gotReferer)
	assert.Equal(t, "Relay", gotTitle)
}

// TestOpenRouterResolveModel verifies table-first resolution with
// namespaced pass-through.
func TestOpenRouterResolveModel(t *testing.T) {
	p := NewOpenRouterProvider(openRouterTestConfig("http://localhost:1"))

	t.Run("table_entry", func(t *testing.T) {
		concrete, err := p.ResolveModel("chat")
		require.NoError(t, err)
		assert.Equal(t, "deepseek/deepseek-chat", concrete)
	})

	t.Run("table_wins_over_passthrough", func(t *testing.T) {
		concrete, err := p.ResolveModel("deepseek-r1:free")
		require.NoError(t, err)
		assert.Equal(t, "deepseek/deepseek-r1:free", concrete)
	})

	t.Run("namespaced_passthrough", func(t *testing.T) {
		concrete, err := p.ResolveModel("anthropic/claude-3.5-sonnet")
		require.NoError(t, err)
		assert.Equal(t, "anthropic/claude-3.5-sonnet", concrete)
	})

	t.Run("bare_unknown", func(t *testing.T) {
		_, err := p.ResolveModel("mystery")
		require.Error(t, err)

		de, ok := AsDispatchError(err)
		require.True(t, ok)
		assert.Equal(t, KindModelNotFound, de.Kind)
		assert.Equal(t, ProviderOpenRouter, de.Provider)
		assert.Contains(t, de.Suggestion, "deepseek/deepseek-chat")
	})
}

// TestOpenRouterProbeWithoutKey verifies a missing key fails the probe
// before any network traffic.
func TestOpenRouterProbeWithoutKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	cfg := openRouterTestConfig(server.URL)
	cfg.APIKey = ""
	p := NewOpenRouterProvider(cfg)

	assert.False(t, p.Probe(context.Background()))
	assert.Equal(t, 0, requests)
}

// TestOpenRouterChatWithoutKey verifies the credential check happens
// before the request is built.
func TestOpenRouterChatWithoutKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	cfg := openRouterTestConfig(server.URL)
	cfg.APIKey = ""
	p := NewOpenRouterProvider(cfg)

	_, err := p.Chat(context.Background(), &ChatRequest{Model: "deepseek/deepseek-chat", Prompt: "hi"})
	require.Error(t, err)

	de, ok := AsDispatchError(err)
	require.True(t, ok)
	assert.Equal(t, KindCredentialMissing, de.Kind)
	assert.Contains(t, de.Suggestion, "OPENROUTER_API_KEY")
	assert.Equal(t, 0, requests)
}

// TestOpenRouterKeyFromEnvironment verifies the environment fallback
// reaches the wire when the config key is empty.
func TestOpenRouterKeyFromEnvironment(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-env-key")

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	defer server.Close()

	cfg := openRouterTestConfig(server.URL)
	cfg.APIKey = ""
	p := NewOpenRouterProvider(cfg)

	_, err := p.Chat(context.Background(), &ChatRequest{Model: "deepseek/deepseek-chat", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-or-env-key", gotAuth)
}

// TestOpenRouterStatusMapping pins the HTTP status to error kind table.
func TestOpenRouterStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, KindAuthError},
		{"forbidden", http.StatusForbidden, KindAuthError},
		{"payment_required", http.StatusPaymentRequired, KindInsufficientFunds},
		{"rate_limited", http.StatusTooManyRequests, KindRateLimited},
		{"not_found", http.StatusNotFound, KindModelNotFound},
		{"server_error", http.StatusInternalServerError, KindProviderUnavailable},
		{"bad_gateway", http.StatusBadGateway, KindProviderUnavailable},
		{"teapot", http.StatusTeapot, KindProviderAPIError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]string{"message": "upstream says no"},
				})
			}))
			defer server.Close()

			p := NewOpenRouterProvider(openRouterTestConfig(server.URL))

			_, err := p.Chat(context.Background(), &ChatRequest{Model: "deepseek/deepseek-chat", Prompt: "hi"})
			require.Error(t, err)

			de, ok := AsDispatchError(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, de.Kind)
			assert.Equal(t, tt.status, de.HTTPStatus)
			assert.Equal(t, "upstream says no", de.Message)
			assert.NotEmpty(t, de.Suggestion)
		})
	}
}

// TestOpenRouterNotFoundSuggestsStableAlias verifies a 404 on the
// unstable free alias points at the dependable substitute.
func TestOpenRouterNotFoundSuggestsStableAlias(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "No endpoints found"},
		})
	}))
	defer server.Close()

	p := NewOpenRouterProvider(openRouterTestConfig(server.URL))

	_, err := p.Chat(context.Background(), &ChatRequest{Model: "deepseek/deepseek-r1:free", Prompt: "hi"})
	require.Error(t, err)

	de, ok := AsDispatchError(err)
	require.True(t, ok)
	assert.Equal(t, KindModelNotFound, de.Kind)
	assert.Contains(t, de.Suggestion, "deepseek-chat")
}

// TestStableAlias pins the alias substitution table.
func TestStableAlias(t *testing.T) {
	tests := []struct {
		model        string
		unstable     bool
		substitution string
	}{
		{"deepseek-r1:free", true, "deepseek-chat"},
		{"deepseek/deepseek-r1:free", true, "deepseek-chat"},
		{"deepseek/deepseek-r1-distill:free", true, "deepseek-chat"},
		{"deepseek/deepseek-r1", false, ""},
		{"deepseek/deepseek-chat", false, ""},
		{"meta/llama-3:free", false, ""},
		{"", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.unstable, IsUnstableFreeAlias(tt.model))
			assert.Equal(t, tt.substitution, StableAlias(tt.model))
		})
	}
}

// TestOpenRouterChatServedModel verifies the response reports the model
// the provider says it served, not the one requested.
func TestOpenRouterChatServedModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "deepseek/deepseek-chat-v3",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "served"}},
			},
			"usage": map[string]int{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
		})
	}))
	defer server.Close()

	p := NewOpenRouterProvider(openRouterTestConfig(server.URL))

	resp, err := p.Chat(context.Background(), &ChatRequest{Model: "deepseek/deepseek-chat", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "deepseek/deepseek-chat-v3", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
	assert.Equal(t, 7, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
}

// TestOpenRouterDisabled verifies a disabled provider refuses without
// touching the network.
func TestOpenRouterDisabled(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	cfg := openRouterTestConfig(server.URL)
	cfg.Enabled = false
	p := NewOpenRouterProvider(cfg)

	_, err := p.Chat(context.Background(), &ChatRequest{Model: "deepseek/deepseek-chat", Prompt: "hi"})
	assert.True(t, IsKind(err, KindProviderDisabled))
	assert.False(t, p.Probe(context.Background()))
	assert.Equal(t, 0, requests)
}
