package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/normanking/relay/internal/config"
)

// TestSelectModel covers the Smart-Auto-Mode selection table and the
// explicit-model override.
func TestSelectModel(t *testing.T) {
	smart := config.SmartAutoConfig{
		Enabled:       true,
		DefaultModel:  "chat",
		FallbackModel: "chat",
		CategoryModels: map[string]string{
			"code":      "code",
			"reasoning": "reasoning",
		},
	}

	tests := []struct {
		name     string
		category TaskCategory
		opts     Options
		smart    config.SmartAutoConfig
		want     string
	}{
		{"explicit_model_wins", TaskCode, Options{Model: "my-model"}, smart, "my-model"},
		{"explicit_model_wins_over_any_category", TaskReasoning, Options{Model: "my-model"}, smart, "my-model"},
		{"category_mapped", TaskCode, Options{}, smart, "code"},
		{"unmapped_category_uses_default", TaskAnalysis, Options{}, smart, "chat"},
		{"smart_disabled_uses_default", TaskCode, Options{}, config.SmartAutoConfig{Enabled: false, DefaultModel: "chat"}, "chat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectModel(tt.category, tt.opts, tt.smart))
		})
	}
}

// TestOptionsExplicit pins which option fields mark a request as an
// explicit choice.
func TestOptionsExplicit(t *testing.T) {
	useCloud := true
	useLocal := false
	temp := 0.2

	tests := []struct {
		name string
		opts Options
		want bool
	}{
		{"empty", Options{}, false},
		{"model", Options{Model: "chat"}, true},
		{"use_openrouter_true", Options{UseOpenRouter: &useCloud}, true},
		{"use_openrouter_false", Options{UseOpenRouter: &useLocal}, true},
		{"openrouter_model", Options{OpenRouterModel: "deepseek/deepseek-chat"}, true},
		{"sampling_knobs_are_not_explicit", Options{Temperature: &temp, SkipKnowledgeBase: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.Explicit())
		})
	}
}
