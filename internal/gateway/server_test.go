package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/normanking/relay/internal/bus"
	"github.com/normanking/relay/internal/config"
	"github.com/normanking/relay/internal/dispatch"
	"github.com/normanking/relay/internal/llm"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TEST HARNESS
// ═══════════════════════════════════════════════════════════════════════════════

// stubProvider serves an OpenAI-compatible completion endpoint that always
// answers with content, plus a healthy /models probe.
func stubProvider(t *testing.T, content string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": [{"id": "qwen2.5:3b"}, {"id": "llama3.2"}]}`)
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		body, _ := json.Marshal(map[string]any{
			"model": req.Model,
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
			"usage": map[string]int{"total_tokens": 10, "prompt_tokens": 6, "completion_tokens": 4},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// startGateway boots a full gateway on a random loopback port backed by a
// local provider stub that always answers with answer. It returns the
// server, the event bus and the base HTTP URL.
func startGateway(t *testing.T, answer string, mutate func(*config.Config)) (*Server, *bus.Bus, string) {
	t.Helper()
	t.Setenv("OPENROUTER_API_KEY", "")

	provider := stubProvider(t, answer)

	cfg := config.Default()
	cfg.LLM.Local.BaseURL = provider.URL
	cfg.LLM.Local.TimeoutSec = 5
	cfg.LLM.Local.ProbeTimeoutSec = 1
	cfg.LLM.OpenRouter.Enabled = false
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	if mutate != nil {
		mutate(cfg)
	}

	events := bus.NewWithHistory(16)
	t.Cleanup(func() { events.Close() })

	d, err := dispatch.New(cfg,
		dispatch.WithLocalProvider(llm.NewLocalProvider(cfg.LLM.Local)),
		dispatch.WithCloudProvider(llm.NewOpenRouterProvider(cfg.LLM.OpenRouter)),
		dispatch.WithBus(events),
	)
	require.NoError(t, err)

	srv := New(cfg.Gateway, d, events, zerolog.Nop())
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	return srv, events, "http://" + srv.Addr()
}

// doJSON issues a request with an optional bearer token and returns the
// response and its body.
func doJSON(t *testing.T, method, url, body, token string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeError(t *testing.T, body []byte) errorBody {
	t.Helper()
	var envelope errorResponse
	require.NoError(t, json.Unmarshal(body, &envelope))
	return envelope.Error
}

// ═══════════════════════════════════════════════════════════════════════════════
// API TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestGatewayDispatch(t *testing.T) {
	_, _, base := startGateway(t, "the answer", nil)

	resp, body := doJSON(t, http.MethodPost, base+"/api/v1/dispatch", `{"prompt": "hello there"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result dispatch.Result
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "the answer", result.Content)
	assert.Equal(t, llm.ProviderLocal, result.UsedProvider)
	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, dispatch.LanguageEnglish, result.Language)
}

func TestGatewayDispatchRejectsUnknownField(t *testing.T) {
	_, _, base := startGateway(t, "x", nil)

	resp, body := doJSON(t, http.MethodPost, base+"/api/v1/dispatch", `{"prompt": "hi", "modle": "chat"}`, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	e := decodeError(t, body)
	assert.Equal(t, "bad_request", e.Kind)
	assert.Contains(t, e.Message, "unknown field")
}

func TestGatewayDispatchEmptyPrompt(t *testing.T) {
	_, _, base := startGateway(t, "x", nil)

	resp, body := doJSON(t, http.MethodPost, base+"/api/v1/dispatch", `{"prompt": ""}`, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeError(t, body).Message, "prompt is empty")
}

func TestGatewayDispatchUnknownModel(t *testing.T) {
	_, _, base := startGateway(t, "x", nil)

	resp, body := doJSON(t, http.MethodPost, base+"/api/v1/dispatch", `{"prompt": "hi", "model": "ghost"}`, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	e := decodeError(t, body)
	assert.Equal(t, "model_not_found", e.Kind)
	assert.Equal(t, "ghost", e.Model)
}

func TestGatewayDispatchMethodNotAllowed(t *testing.T) {
	_, _, base := startGateway(t, "x", nil)

	resp, _ := doJSON(t, http.MethodGet, base+"/api/v1/dispatch", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGatewayModels(t *testing.T) {
	_, _, base := startGateway(t, "x", nil)

	resp, body := doJSON(t, http.MethodGet, base+"/api/v1/models", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list dispatch.ModelList
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, []string{"llama3.2", "qwen2.5:3b"}, list.Local)
	assert.Empty(t, list.External)
}

func TestGatewayClassify(t *testing.T) {
	_, _, base := startGateway(t, "x", nil)

	resp, body := doJSON(t, http.MethodPost, base+"/api/v1/classify", `{"text": "debug this function"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got classifyResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, dispatch.LanguageEnglish, got.Language)
	assert.Equal(t, dispatch.TaskCode, got.Category)

	resp, body = doJSON(t, http.MethodPost, base+"/api/v1/classify", `{"text": "Напиши функцию сортировки"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, dispatch.LanguageRussian, got.Language)
	assert.Equal(t, dispatch.TaskCode, got.Category)

	resp, _ = doJSON(t, http.MethodPost, base+"/api/v1/classify", `{"text": ""}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGatewayTranslate(t *testing.T) {
	_, _, base := startGateway(t, "Hello world", nil)

	resp, body := doJSON(t, http.MethodPost, base+"/api/v1/translate", `{"text": "Привет мир"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got translateResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Hello world", got.Translation)

	resp, _ = doJSON(t, http.MethodPost, base+"/api/v1/translate", `{"text": ""}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGatewayHealth(t *testing.T) {
	_, _, base := startGateway(t, "x", nil)

	resp, body := doJSON(t, http.MethodGet, base+"/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "relay-gateway", health.Service)
}

func TestGatewayStartTwice(t *testing.T) {
	srv, _, _ := startGateway(t, "x", nil)
	assert.Error(t, srv.Start())
}

// ═══════════════════════════════════════════════════════════════════════════════
// AUTH TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestGatewayAuth(t *testing.T) {
	hash, err := HashToken("secret-token")
	require.NoError(t, err)

	_, _, base := startGateway(t, "x", func(cfg *config.Config) {
		cfg.Gateway.AuthTokenHash = hash
	})

	t.Run("missing_token", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, base+"/api/v1/models", "", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "unauthorized", decodeError(t, body).Kind)
	})

	t.Run("wrong_token", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, base+"/api/v1/models", "", "not-the-token")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid_token", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, base+"/api/v1/models", "", "secret-token")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("health_is_open", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, base+"/health", "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHashToken(t *testing.T) {
	hash, err := HashToken("relay-gw-token")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("relay-gw-token")))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("other")))

	_, err = HashToken("")
	assert.Error(t, err)
}
