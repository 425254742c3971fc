package dispatch

import (
	"context"
	"strings"

	"github.com/normanking/relay/internal/llm"
	"github.com/normanking/relay/internal/logging"
)

// Translator converts a prompt to English ahead of a provider call.
type Translator interface {
	TranslateToEnglish(ctx context.Context, text string) (string, error)
}

const (
	// translationInstruction prefixes the text sent to the translator model.
	translationInstruction = "Translate the following text to English. Reply with the translation only, no explanations:\n\n"

	// translationTemperature keeps the translator close to literal.
	translationTemperature = 0.3

	translationMaxTokens = 2048
)

// providerTranslator runs translations through a logical model on an
// ordinary provider. The model must accept the source language.
type providerTranslator struct {
	provider llm.Provider
	logical  string
	log      *logging.Logger
}

func newProviderTranslator(p llm.Provider, logical string) *providerTranslator {
	return &providerTranslator{
		provider: p,
		logical:  logical,
		log:      logging.Global().WithComponent("Translator"),
	}
}

// TranslateToEnglish performs the translation sub-call. An empty reply
// from the translator counts as a failed translation.
func (t *providerTranslator) TranslateToEnglish(ctx context.Context, text string) (string, error) {
	concrete, err := t.provider.ResolveModel(t.logical)
	if err != nil {
		return "", err
	}

	t.log.Debug("translating %d chars through %s", len(text), concrete)

	resp, err := t.provider.Chat(ctx, &llm.ChatRequest{
		Model:       concrete,
		Prompt:      translationInstruction + text,
		Temperature: translationTemperature,
		MaxTokens:   translationMaxTokens,
	})
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", &llm.DispatchError{
			Kind:       llm.KindTranslationFailed,
			Provider:   t.provider.Name(),
			Model:      concrete,
			Message:    "translator returned an empty reply",
			Suggestion: "check that the translator model is pulled and responding",
		}
	}
	return out, nil
}
