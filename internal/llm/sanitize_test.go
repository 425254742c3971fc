package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStripReasoning covers the tag forms reasoning models actually emit,
// including the asymmetric legacy pair from Russian-prompted DeepSeek R1.
func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty",
			input: "",
			want:  "",
		},
		{
			name:  "no_tags",
			input: "  plain answer  ",
			want:  "plain answer",
		},
		{
			name:  "think_block",
			input: "<think>working it out</think>The answer is 4.",
			want:  "The answer is 4.",
		},
		{
			name:  "thinking_block",
			input: "<thinking>hmm</thinking>Done.",
			want:  "Done.",
		},
		{
			name:  "legacy_asymmetric_pair",
			input: "<думаю>размышляю над задачей</think>Ответ: 4.",
			want:  "Ответ: 4.",
		},
		{
			name:  "multiline_block",
			input: "<think>line one\nline two\nline three</think>\nVisible.",
			want:  "Visible.",
		},
		{
			name:  "multiple_blocks",
			input: "<think>a</think>first <think>b</think>second",
			want:  "first second",
		},
		{
			name:  "unpaired_open",
			input: "<think>never closed, still visible text",
			want:  "never closed, still visible text",
		},
		{
			name:  "unpaired_close",
			input: "stray</think> tag",
			want:  "stray tag",
		},
		{
			name:  "unpaired_legacy",
			input: "<думаю>visible",
			want:  "visible",
		},
		{
			name:  "only_reasoning",
			input: "<think>nothing but thought</think>",
			want:  "",
		},
		{
			name:  "surrounding_text_kept",
			input: "before <thinking>x</thinking> after",
			want:  "before  after",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripReasoning(tt.input))
		})
	}
}

// TestStripReasoningIdempotent verifies a second pass changes nothing, so
// the sanitizer can sit on every response path unconditionally.
func TestStripReasoningIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"<think>a</think>b",
		"<думаю>x</think>y",
		"  padded  ",
		"<think>unclosed drags on",
	}

	for _, input := range inputs {
		once := StripReasoning(input)
		twice := StripReasoning(once)
		assert.Equal(t, once, twice, "input %q", input)
	}
}
