package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ERROR KINDS
// ═══════════════════════════════════════════════════════════════════════════════

// ErrorKind tags a dispatch failure with its cause. The set is closed:
// every error surfaced by a provider or the dispatcher carries exactly one
// kind, assigned at the point where the failure is observed. Callers branch
// on the kind, never on rendered error text.
type ErrorKind int

const (
	// KindConfigLoad marks a configuration that failed to load or validate.
	// Raised at construction time and fatal: no dispatcher exists after it.
	KindConfigLoad ErrorKind = iota

	// KindProviderDisabled marks a request routed to a provider that is
	// switched off in configuration.
	KindProviderDisabled

	// KindCredentialMissing marks a cloud request attempted without an API
	// key in either configuration or environment.
	KindCredentialMissing

	// KindModelNotFound marks a logical model with no mapping, or a concrete
	// model the provider does not serve (HTTP 404).
	KindModelNotFound

	// KindProviderUnreachable marks a connection refused or a failed
	// availability probe. Nothing is listening at the configured address.
	KindProviderUnreachable

	// KindProviderTimeout marks a request that ran out of time before the
	// provider answered.
	KindProviderTimeout

	// KindProviderConnection marks a transport failure that is neither a
	// refused connection nor a timeout (DNS failure, reset mid-body).
	KindProviderConnection

	// KindAuthError marks a rejected credential (HTTP 401 or 403).
	KindAuthError

	// KindRateLimited marks HTTP 429.
	KindRateLimited

	// KindInsufficientFunds marks HTTP 402 from a metered provider.
	KindInsufficientFunds

	// KindProviderAPIError marks any other HTTP error status: the provider
	// answered, and said no.
	KindProviderAPIError

	// KindProviderUnavailable marks HTTP 5xx: the provider answered but is
	// broken upstream.
	KindProviderUnavailable

	// KindUnexpectedResponse marks a 2xx reply whose body did not parse as a
	// chat completion or carried no choices.
	KindUnexpectedResponse

	// KindTranslationFailed marks a pre-flight translation that failed,
	// after which dispatch re-routed rather than aborted.
	KindTranslationFailed

	// KindAllFallbacksExhausted marks a dispatch whose primary attempt and
	// every fallback failed. It wraps the last underlying failure.
	KindAllFallbacksExhausted
)

var errorKindNames = map[ErrorKind]string{
	KindConfigLoad:            "config_load_error",
	KindProviderDisabled:      "provider_disabled",
	KindCredentialMissing:     "credential_missing",
	KindModelNotFound:         "model_not_found",
	KindProviderUnreachable:   "provider_unreachable",
	KindProviderTimeout:       "provider_timeout",
	KindProviderConnection:    "provider_connection_error",
	KindAuthError:             "auth_error",
	KindRateLimited:           "rate_limited",
	KindInsufficientFunds:     "insufficient_funds",
	KindProviderAPIError:      "provider_api_error",
	KindProviderUnavailable:   "provider_unavailable",
	KindUnexpectedResponse:    "unexpected_response_shape",
	KindTranslationFailed:     "translation_failed",
	KindAllFallbacksExhausted: "all_fallbacks_exhausted",
}

// String returns the stable wire identifier for the kind. These strings
// appear in API responses and logs; changing one is a breaking change.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error_kind_%d", int(k))
}

// MarshalJSON encodes the kind as its stable string form.
func (k ErrorKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// ═══════════════════════════════════════════════════════════════════════════════
// DISPATCH ERROR
// ═══════════════════════════════════════════════════════════════════════════════

// DispatchError is the one error type that crosses package boundaries.
// Kind and Message are always set; the rest is filled in when known.
type DispatchError struct {
	Kind       ErrorKind  `json:"kind"`
	Provider   ProviderID `json:"provider,omitempty"`
	Model      string     `json:"model,omitempty"`
	HTTPStatus int        `json:"http_status,omitempty"`
	Message    string     `json:"message"`
	Suggestion string     `json:"suggestion,omitempty"`
	Cause      error      `json:"-"`
}

// Error renders the failure for logs. The suggestion is deliberately left
// out; interactive surfaces print it separately.
func (e *DispatchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Provider != "" {
		b.WriteString(": ")
		b.WriteString(string(e.Provider))
		if e.Model != "" {
			b.WriteString("/")
			b.WriteString(e.Model)
		}
	} else if e.Model != "" {
		b.WriteString(": ")
		b.WriteString(e.Model)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.HTTPStatus)
	}
	return b.String()
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// AsDispatchError unwraps err to a *DispatchError if one is in the chain.
func AsDispatchError(err error) (*DispatchError, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	de, ok := AsDispatchError(err)
	return ok && de.Kind == kind
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRANSPORT CLASSIFICATION
// ═══════════════════════════════════════════════════════════════════════════════

// classifyTransport maps a failure from http.Client.Do to an error kind.
// It runs with the raw error in hand; nothing downstream re-derives the
// kind from rendered text.
func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProviderTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindProviderTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindProviderUnreachable
	}
	return KindProviderConnection
}

// newTransportError wraps a transport failure in a classified DispatchError.
// Caller cancellation is not a provider failure: it propagates unwrapped so
// the dispatcher can tell an aborted request from a broken provider.
func newTransportError(ctx context.Context, provider ProviderID, model string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	kind := classifyTransport(err)
	return &DispatchError{
		Kind:       kind,
		Provider:   provider,
		Model:      model,
		Message:    err.Error(),
		Suggestion: transportSuggestion(kind, provider),
		Cause:      err,
	}
}

func transportSuggestion(kind ErrorKind, provider ProviderID) string {
	switch kind {
	case KindProviderTimeout:
		if provider == ProviderLocal {
			return "the model may still be loading; raise llm.local.timeout_sec or try a smaller model"
		}
		return "raise llm.openrouter.timeout_sec or retry once the service recovers"
	case KindProviderUnreachable:
		if provider == ProviderLocal {
			return "start the local inference server (for Ollama: ollama serve) or fix llm.local.base_url"
		}
		return "check network connectivity and llm.openrouter.base_url"
	default:
		if provider == ProviderLocal {
			return "check that llm.local.base_url points at a running OpenAI-compatible server"
		}
		return "the request never produced an HTTP response; check connectivity and DNS"
	}
}
