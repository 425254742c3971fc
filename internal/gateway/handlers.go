package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/normanking/relay/internal/dispatch"
	"github.com/normanking/relay/internal/llm"
)

// maxRequestBody caps request bodies. Prompts are text; a megabyte is
// already generous.
const maxRequestBody = 1 << 20

// ═══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// dispatchRequest is the POST /api/v1/dispatch body. Options fields are
// inlined, so callers set "model", "use_openrouter" and friends at the
// top level next to the prompt.
type dispatchRequest struct {
	Prompt string `json:"prompt"`
	dispatch.Options
}

// textRequest is the body shared by /api/v1/classify and
// /api/v1/translate.
type textRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Language dispatch.Language     `json:"language"`
	Category dispatch.TaskCategory `json:"category"`
}

type translateResponse struct {
	Translation string `json:"translation"`
}

type errorBody struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ═══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req dispatchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		return
	}

	result, err := s.dispatcher.Send(r.Context(), req.Prompt, req.Options)
	if err != nil {
		s.log.Warn().Err(err).Msg("dispatch failed")
		s.writeDispatchError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	s.writeJSON(w, http.StatusOK, s.dispatcher.AvailableModels(r.Context()))
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req textRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "text is empty")
		return
	}

	s.writeJSON(w, http.StatusOK, classifyResponse{
		Language: dispatch.DetectLanguage(req.Text),
		Category: dispatch.ClassifyTask(req.Text),
	})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req textRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "text is empty")
		return
	}

	translation, err := s.dispatcher.TranslateToEnglish(r.Context(), req.Text)
	if err != nil {
		s.log.Warn().Err(err).Msg("translation failed")
		s.writeDispatchError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, translateResponse{Translation: translation})
}

// handleHealth reports liveness plus a few stream gauges. It sits outside
// authentication so probes work without the token.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	s.clientsMu.RLock()
	clients := len(s.clients)
	s.clientsMu.RUnlock()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"service":       "relay-gateway",
		"clients":       clients,
		"subscriptions": s.events.SubscriptionCount(),
		"history":       len(s.events.History()),
	})
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENCODING
// ═══════════════════════════════════════════════════════════════════════════════

// decodeJSON parses the request body strictly: unknown fields are
// rejected so option typos fail loudly instead of being ignored. On error
// the 400 response has already been written.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid request body: %v", err))
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string) {
	s.writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

// writeDispatchError renders a dispatch failure with the HTTP status its
// kind maps to.
func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	if errors.Is(err, dispatch.ErrEmptyPrompt) {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	de, ok := llm.AsDispatchError(err)
	if !ok {
		s.writeError(w, http.StatusBadGateway, "internal_error", err.Error())
		return
	}

	s.writeJSON(w, statusForKind(de.Kind), errorResponse{Error: errorBody{
		Kind:       de.Kind.String(),
		Message:    de.Message,
		Provider:   string(de.Provider),
		Model:      de.Model,
		Suggestion: de.Suggestion,
	}})
}

// statusForKind maps error kinds onto HTTP statuses. Anything the caller
// can fix gets a 4xx; provider-side trouble is a 502/503.
func statusForKind(kind llm.ErrorKind) int {
	switch kind {
	case llm.KindModelNotFound:
		return http.StatusNotFound
	case llm.KindProviderDisabled:
		return http.StatusServiceUnavailable
	case llm.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
