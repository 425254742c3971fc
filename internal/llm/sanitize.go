package llm

import (
	"regexp"
	"strings"
)

// Reasoning models wrap their chain of thought in think tags. Most emit
// the paired <think> or <thinking> forms; older DeepSeek R1 builds served
// through Russian-language prompts emit an asymmetric pair that opens
// with <думаю> and closes with </think>.
var (
	thinkBlockRe    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkingBlockRe = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)
	legacyBlockRe   = regexp.MustCompile(`(?s)<думаю>.*?</think>`)
	strayTagRe      = regexp.MustCompile(`</?(?:think|thinking|думаю)>`)
)

// StripReasoning removes chain-of-thought markup from model output: the
// paired tag blocks with everything inside them, then any unpaired
// leftover tags, then surrounding whitespace. Running it on already-clean
// text changes nothing, so every response can be passed through it
// unconditionally. An empty string passes through as is.
func StripReasoning(s string) string {
	if s == "" {
		return s
	}
	out := thinkBlockRe.ReplaceAllString(s, "")
	out = thinkingBlockRe.ReplaceAllString(out, "")
	out = legacyBlockRe.ReplaceAllString(out, "")
	out = strayTagRe.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
